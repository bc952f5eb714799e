package shell

import "strings"

// Builder accumulates shell command fragments and renders them as one
// command line, each fragment gated on the previous one succeeding.
type Builder struct {
	frags []string
}

func (b *Builder) Append(frags ...string) {
	b.frags = append(b.frags, frags...)
}

func (b *Builder) Render() string {
	return strings.Join(b.frags, " && ")
}

// Export renders an environment variable export fragment.
func Export(name, value string) string {
	return "export " + name + "=" + value
}
