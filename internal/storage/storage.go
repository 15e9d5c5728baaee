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

type PutOptions struct {
	ContentType     string
	ContentEncoding string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	ExportStore
}

// ExportStore is the subset of an object store needed to hand exported files
// to callers. Keys returned by List are relative to the store prefix.
type ExportStore interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// URI is the fully qualified location of key, e.g. gs://bucket/key.
	URI(key string) string
}
