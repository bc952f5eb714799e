package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderRendersInOrder(t *testing.T) {
	var b Builder
	b.Append("source setup.bash")
	b.Append("cd ws", "colcon build")

	assert.Equal(t, "source setup.bash && cd ws && colcon build", b.Render())
}

func TestBuilderEmpty(t *testing.T) {
	var b Builder
	assert.Equal(t, "", b.Render())
}

func TestExport(t *testing.T) {
	assert.Equal(t, "export CYCLONEDDS_URI=file:///home/ubuntu/cyclonedds.xml",
		Export("CYCLONEDDS_URI", "file:///home/ubuntu/cyclonedds.xml"))
}
