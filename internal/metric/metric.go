package metric

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
)

type Client interface {
	Send(points ...*influxdb2.Point)
}

type Fields map[string]interface{}

type Tags map[string]string

// StepDuration is the point emitted for each pipeline step of a
// provisioning run.
func StepDuration(instanceName, step string, d time.Duration, failed bool) *influxdb2.Point {
	return influxdb2.NewPoint(
		"fognode_provision_step",
		Tags{
			"instance": instanceName,
			"step":     step,
		},
		Fields{
			"duration_ms": d.Milliseconds(),
			"failed":      failed,
		},
		time.Now(),
	)
}
