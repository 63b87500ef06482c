package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned (wrapped) when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStorage defines the content store operations the judge needs.
type ObjectStorage interface {
	// GetObject opens an object for reading. The caller closes the reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
	// PutObject writes an object; sizeBytes may be -1 when unknown.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectStat describes a stored object.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
