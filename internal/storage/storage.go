// Package storage defines the object sink conversation exports are written to.
// Implementations live in local (a directory) and s3 (any S3-compatible bucket).
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions carries object attributes. Metadata keys are stored as user
// metadata by sinks that support it and ignored by the others.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore stores whole objects by key. Keys are slash separated and
// relative to the store root or prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by sinks that can report whether they are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
