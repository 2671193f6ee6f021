package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/liumaishenjian/natural-language-to-sql/internal/config"
	"github.com/liumaishenjian/natural-language-to-sql/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// ConfigFrom maps the object store settings onto the S3 sink.
func ConfigFrom(cfg config.ObjectStoreConfig) Config {
	return Config{
		Endpoint:         strings.TrimSpace(cfg.Endpoint),
		Region:           strings.TrimSpace(cfg.Region),
		Bucket:           strings.TrimSpace(cfg.Bucket),
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  cfg.SecretAccessKey,
		UseSSL:           cfg.UseSSL,
		Prefix:           cfg.Prefix,
		AutoCreateBucket: cfg.AutoCreateBucket,
	}
}

// hostPort splits Endpoint into the host minio expects and whether to use TLS.
// An https:// URL forces TLS; otherwise UseSSL decides.
func (c Config) hostPort() (string, bool, error) {
	raw := strings.TrimSpace(c.Endpoint)
	if !strings.Contains(raw, "://") {
		if raw == "" {
			return "", false, errors.New("object store endpoint is required for the s3 export sink")
		}
		return raw, c.UseSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse object store endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("object store endpoint %q has no host", raw)
	}
	return u.Host, u.Scheme == "https" || c.UseSSL, nil
}

// objectAPI is the slice of an S3 client the sink needs. Missing objects are
// reported as storage.ErrObjectNotFound.
type objectAPI interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

// Store writes conversation exports into one bucket, under an optional prefix.
type Store struct {
	api    objectAPI
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	host, secure, err := cfg.hostPort()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("object store bucket is required for the s3 export sink")
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	store, err := NewWithClient(cfg.Bucket, cfg.Prefix, minioAPI{mc})
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.bucketReady(ctx, strings.TrimSpace(cfg.Region), true); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// NewWithClient builds a Store over an existing client, mostly for tests.
func NewWithClient(bucket, prefix string, api objectAPI) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	switch {
	case api == nil:
		return nil, errors.New("s3 client is required")
	case bucket == "":
		return nil, errors.New("bucket is required")
	}
	return &Store{api: api, bucket: bucket, prefix: storage.CleanPrefix(prefix)}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := storage.ResolveKey(s.prefix, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.Put(ctx, s.bucket, full, body, size, opts)
	return info, s.objectErr("put", full, err)
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := storage.ResolveKey(s.prefix, key)
	if err != nil {
		return nil, err
	}
	rc, err := s.api.Get(ctx, s.bucket, full)
	if err != nil {
		return nil, s.objectErr("get", full, err)
	}
	return rc, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := storage.ResolveKey(s.prefix, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.Stat(ctx, s.bucket, full)
	return info, s.objectErr("stat", full, err)
}

// Delete removes key. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := storage.ResolveKey(s.prefix, key)
	if err != nil {
		return err
	}
	err = s.api.Delete(ctx, s.bucket, full)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	return s.objectErr("delete", full, err)
}

// objectErr passes not-found through unwrapped so callers can compare it, and
// names the object for everything else.
func (s *Store) objectErr(op, full string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrObjectNotFound):
		return storage.ErrObjectNotFound
	default:
		return fmt.Errorf("%s s3://%s/%s: %w", op, s.bucket, full, err)
	}
}

// Ping checks that the export bucket exists and the credentials can see it.
func (s *Store) Ping(ctx context.Context) error {
	return s.bucketReady(ctx, "", false)
}

// bucketReady fails when the bucket is missing unless create is set, in which
// case it makes the bucket in region.
func (s *Store) bucketReady(ctx context.Context, region string, create bool) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	case exists:
		return nil
	case !create:
		return fmt.Errorf("export bucket %q does not exist", s.bucket)
	}
	if err := s.api.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Location describes where exports land, for logs and status output.
func (s *Store) Location() string {
	return strings.TrimSuffix("s3://"+s.bucket+"/"+s.prefix, "/")
}

// minioAPI adapts minio-go to objectAPI. BucketExists comes from the embedded
// client unchanged.
type minioAPI struct {
	*minio.Client
}

func (m minioAPI) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	up, err := m.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, notFound(err)
	}
	return storage.ObjectInfo{Key: up.Key, Size: up.Size, ETag: up.ETag}, nil
}

// Get stats the object before returning it: minio defers the request until the
// first read, which would hide a missing key.
func (m minioAPI) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err == nil {
		if _, err = obj.Stat(); err != nil {
			_ = obj.Close()
		}
	}
	if err != nil {
		return nil, notFound(err)
	}
	return obj, nil
}

func (m minioAPI) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	info, err := m.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, notFound(err)
	}
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

func (m minioAPI) Delete(ctx context.Context, bucket, key string) error {
	return notFound(m.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (m minioAPI) CreateBucket(ctx context.Context, bucket, region string) error {
	return m.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

// notFound translates minio's missing-object responses to storage.ErrObjectNotFound.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket", resp.Code == "NotFound":
		return storage.ErrObjectNotFound
	case resp.StatusCode == http.StatusNotFound:
		return storage.ErrObjectNotFound
	}
	return err
}
