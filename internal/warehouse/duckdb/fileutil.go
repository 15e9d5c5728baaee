package duckdb

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/duckmesh/querygate/internal/storage"
)

// downloadObject copies key from store to localPath and returns the number of
// bytes written.
func downloadObject(ctx context.Context, store storage.ObjectStore, key, localPath string) (int64, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write local file %q: %w", localPath, err)
	}
	return written, nil
}

// uploadFile puts localPath to store under key.
func uploadFile(ctx context.Context, store storage.ObjectStore, localPath, key string, opts storage.PutOptions) (storage.ObjectInfo, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return store.Put(ctx, key, file, stat.Size(), opts)
}
