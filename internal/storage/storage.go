package storage

import (
	"context"
	"time"
)

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket           string
	KeyPrefix        string
	ProgressCallback func(done, total int64)
}

// ObjectInfo describes one archived artifact.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Service archives finished artifacts to remote object storage.
type Service interface {
	UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}
