// Package backup takes periodic snapshots of the DuckDB telemetry store and
// optionally ships them to S3-compatible object storage.
package backup

import (
	"context"
	"time"
)

// Config controls periodic snapshots.
type Config struct {
	Interval time.Duration
	Dir      string
	KeepLast int
	// BucketURL enables uploads when set, as s3://bucket[/prefix].
	BucketURL string
	S3        S3Config
}

// Snapshotter is implemented by stores that can copy themselves to a file.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(ctx context.Context, dstPath string) error
}

// Uploader ships one snapshot file.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
