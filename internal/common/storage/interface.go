package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the minimal object storage operations required by
// the submission archival flow. It is intentionally small so MinIO and
// other S3-compatible implementations can be swapped without touching
// business logic.
type ObjectStorage interface {
	// PutObject uploads an object of the given size.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// RemoveObject deletes an object.
	RemoveObject(ctx context.Context, bucket, objectKey string) error
}

// ObjectReader is a streaming reader for object data.
type ObjectReader interface {
	io.Reader
	io.Closer
}

// ObjectStat contains object metadata used for validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
