package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

// Store implements objstore.Store for MinIO and other S3-compatible servers.
type Store struct {
	log    *logger.Logger
	client *minio.Client
	bucket string
}

var _ objstore.Store = (*Store)(nil)

func New(ctx context.Context, log *logger.Logger, cfg objstore.Config) (*Store, error) {
	if err := objstore.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check %q: %w", cfg.Bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("minio bucket %q does not exist", cfg.Bucket)
	}
	serviceLog := log.With("service", "MinIOStore")
	serviceLog.Info("Object storage initialized", "mode", cfg.Mode, "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return NewStore(serviceLog, client, cfg.Bucket), nil
}

func NewStore(log *logger.Logger, client *minio.Client, bucket string) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{log: log, client: client, bucket: bucket}
}

func (s *Store) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	var out []objstore.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, obj.Err)
		}
		out = append(out, objstore.ObjectInfo{Key: obj.Key, Size: obj.Size, Updated: obj.LastModified})
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject is lazy; stat first so a missing key surfaces here.
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapErr("get", key, err)
	}
	return obj, nil
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  objstore.ContentTypeForKey(key),
		UserMetadata: metadata,
	})
	if err != nil {
		return wrapErr("put", key, err)
	}
	return nil
}

func (s *Store) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return objstore.ObjectInfo{}, wrapErr("stat", key, err)
	}
	return objstore.ObjectInfo{
		Key:      key,
		Size:     info.Size,
		Metadata: normalizeMetadata(info.UserMetadata),
		Updated:  info.LastModified,
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return wrapErr("delete", key, err)
	}
	return nil
}

func (s *Store) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", wrapErr("presign", key, err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func wrapErr(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, key, objstore.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// User metadata comes back with canonical header casing ("Content-Sha256").
func normalizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		out[k] = v
	}
	return out
}
