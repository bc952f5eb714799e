package storage

import (
	_ "gocloud.dev/blob/fileblob"
)

// Bucket is the artifact mirror: workspace archives and info snapshots are
// copied here when a bucket is configured, so a fleet's state survives the
// launching host.
type Bucket interface {
	Get(key string) (data []byte, err error)
	Store(key string, data []byte) (err error)
	Delete(key string) (err error)
}
