//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/querygate/internal/storage"
)

func TestExportRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("QUERYGATE_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("QUERYGATE_TEST_S3_ENDPOINT is not set")
	}

	cfg := Config{
		Endpoint:         endpoint,
		Region:           envOr("QUERYGATE_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("QUERYGATE_TEST_S3_BUCKET", "querygate-it"),
		AccessKeyID:      envOr("QUERYGATE_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("QUERYGATE_TEST_S3_SECRET_KEY", "miniostorage"),
		UseSSL:           false,
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key, err := storage.BuildExportShardKey("analytics.roundtrip", 0)
	if err != nil {
		t.Fatalf("BuildExportShardKey() error = %v", err)
	}
	payload := []byte("querygate-integration")

	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	objects, err := store.List(ctx, "analytics.roundtrip-")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 1 || objects[0].Key != key {
		t.Fatalf("List() = %+v", objects)
	}

	signed, err := store.PresignGet(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	resp, err := http.Get(signed)
	if err != nil {
		t.Fatalf("GET signed url error = %v", err)
	}
	readPayload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(readPayload, payload) {
		t.Fatalf("signed payload = %q, want %q", string(readPayload), string(payload))
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
