package devserver

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	ResultsRoute      = "/results"
	resultContentType = "text/csv"
)

// ResultStore publishes a processed file and returns a shareable link to it.
type ResultStore interface {
	Publish(ctx context.Context, name string, data []byte) (string, error)
	Type() string
}

// LocalStore keeps results on disk. The server exposes the directory under /results.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	name = filepath.Base(name)
	if err := os.MkdirAll(filepath.Join(s.dir, id), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, id, name), data, 0o640); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s/%s/%s", s.baseURL, ResultsRoute, id, url.PathEscape(name)), nil
}

func (s *LocalStore) Type() string {
	return "local"
}

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	prefix          string
	linkTTL         time.Duration
	useSSL          bool
}

func newMinioConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		prefix:  "processed",
		linkTTL: 24 * time.Hour,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioStore uploads results to an S3 compatible bucket and links them with a
// presigned URL.
type MinioStore struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioStore(opts ...MinioOpts) (*MinioStore, error) {
	cfg := newMinioConfig(opts...)
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, fmt.Errorf("minio store needs an endpoint and a bucket")
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStore{cfg: cfg, client: minioClient}, nil
}

func (s *MinioStore) Publish(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(s.cfg.prefix, uuid.NewString(), filepath.Base(name))
	_, err := s.client.PutObject(ctx, s.cfg.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: resultContentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	link, err := s.client.PresignedGetObject(ctx, s.cfg.bucket, key, s.cfg.linkTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return link.String(), nil
}

func (s *MinioStore) Type() string {
	return "minio"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}

func WithLinkTTL(ttl time.Duration) MinioOpts {
	return func(c *minioConfig) {
		if ttl > 0 {
			c.linkTTL = ttl
		}
	}
}
