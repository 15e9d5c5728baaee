package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/duckmesh/querygate/internal/gcpauth"
	"github.com/duckmesh/querygate/internal/storage"
)

type Config struct {
	Bucket    string
	Prefix    string
	ProjectID string
	KeyFile   string
	// Credentials is base64 encoded service account JSON.
	Credentials string
	Location    string

	AutoCreateBucket bool
}

type client interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	Sign(bucket, key string, expires time.Time) (string, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, projectID, location string) error
	Close() error
}

type Store struct {
	client client
	bucket string
	prefix string
	now    func() time.Time
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(strings.TrimPrefix(cfg.Bucket, "gs://"))
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	gc, err := newGCSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{client: gc, bucket: bucket, prefix: storage.CleanPrefix(cfg.Prefix), now: time.Now}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.ProjectID), strings.TrimSpace(cfg.Location)); err != nil {
			_ = gc.Close()
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket, prefix string, c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	bucket = strings.TrimSpace(strings.TrimPrefix(bucket, "gs://"))
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{client: c, bucket: bucket, prefix: storage.CleanPrefix(prefix), now: time.Now}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Put(ctx, s.bucket, normalized, body, opts)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", normalized, err)
	}
	info.Key = storage.RelativeKey(s.prefix, info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Get(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	info.Key = storage.RelativeKey(s.prefix, info.Key)
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.bucket, normalized); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", normalized, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full := storage.JoinPrefix(s.prefix, prefix)
	objects, err := s.client.List(ctx, s.bucket, full)
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", full, err)
	}
	for i := range objects {
		objects[i].Key = storage.RelativeKey(s.prefix, objects[i].Key)
	}
	return objects, nil
}

// PresignGet issues a V4 signed GET URL valid for ttl.
func (s *Store) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("presign ttl must be > 0")
	}
	signed, err := s.client.Sign(s.bucket, normalized, s.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("sign object %q: %w", normalized, err)
	}
	return signed, nil
}

func (s *Store) URI(key string) string {
	return "gs://" + s.bucket + "/" + storage.JoinPrefix(s.prefix, key)
}

func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ensureBucket(ctx context.Context, projectID, location string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if projectID == "" {
		return fmt.Errorf("create bucket %q: project id is required", s.bucket)
	}
	if err := s.client.CreateBucket(ctx, s.bucket, projectID, location); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func newGCSClient(ctx context.Context, cfg Config) (*gcsClient, error) {
	opts, err := gcpauth.ClientOptions(cfg.KeyFile, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	c, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsClient{client: c}, nil
}

type gcsClient struct {
	client *gcstorage.Client
}

func (g *gcsClient) Put(ctx context.Context, bucket, key string, reader io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	writer := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = opts.ContentType
	writer.ContentEncoding = opts.ContentEncoding
	if _, err := io.Copy(writer, reader); err != nil {
		_ = writer.Close()
		return storage.ObjectInfo{}, err
	}
	if err := writer.Close(); err != nil {
		return storage.ObjectInfo{}, mapGCSErr(err)
	}
	return objectInfo(writer.Attrs()), nil
}

func (g *gcsClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSErr(err)
	}
	return reader, nil
}

func (g *gcsClient) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return storage.ObjectInfo{}, mapGCSErr(err)
	}
	return objectInfo(attrs), nil
}

func (g *gcsClient) Delete(ctx context.Context, bucket, key string) error {
	return mapGCSErr(g.client.Bucket(bucket).Object(key).Delete(ctx))
}

func (g *gcsClient) List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	var out []storage.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, mapGCSErr(err)
		}
		out = append(out, objectInfo(attrs))
	}
}

func (g *gcsClient) Sign(bucket, key string, expires time.Time) (string, error) {
	return g.client.Bucket(bucket).SignedURL(key, &gcstorage.SignedURLOptions{
		Method:  "GET",
		Expires: expires,
		Scheme:  gcstorage.SigningSchemeV4,
	})
}

func (g *gcsClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	if errors.Is(err, gcstorage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *gcsClient) CreateBucket(ctx context.Context, bucket, projectID, location string) error {
	return g.client.Bucket(bucket).Create(ctx, projectID, &gcstorage.BucketAttrs{Location: location})
}

func (g *gcsClient) Close() error {
	return g.client.Close()
}

func objectInfo(attrs *gcstorage.ObjectAttrs) storage.ObjectInfo {
	if attrs == nil {
		return storage.ObjectInfo{}
	}
	return storage.ObjectInfo{Key: attrs.Name, Size: attrs.Size, ETag: attrs.Etag, LastModified: attrs.Updated}
}

func mapGCSErr(err error) error {
	if errors.Is(err, gcstorage.ErrObjectNotExist) || errors.Is(err, gcstorage.ErrBucketNotExist) {
		return storage.ErrObjectNotFound
	}
	return err
}
