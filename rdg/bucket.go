package rdg

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// Bucket is a flat key/blob store. Keys use '/' separators.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)
}

const (
	BackendDir = "dir"
	BackendS3  = "s3"
)

type Config struct {
	Backend string   `json:"backend"`
	Dir     string   `json:"dir"`
	S3      S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint string `json:"endpoint"`
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	UseSSL   bool   `json:"use_ssl"`
	// Static keys; empty means the AWS_* environment variables.
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

func OpenBucket(cfg Config) (Bucket, error) {
	switch cfg.Backend {
	case BackendDir, "":
		return NewDirBucket(cfg.Dir)
	case BackendS3:
		return NewS3Bucket(cfg.S3)
	default:
		return nil, errors.Errorf("unknown rdg backend %q", cfg.Backend)
	}
}

type DirBucket struct {
	root string
}

func NewDirBucket(root string) (*DirBucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", root)
	}
	return &DirBucket{root: root}, nil
}

func (b *DirBucket) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *DirBucket) Put(_ context.Context, key string, data []byte) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "create dir for %s", key)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	return errors.Wrapf(os.Rename(tmp, p), "rename %s", key)
}

func (b *DirBucket) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return data, errors.Wrapf(err, "read %s", key)
}

type S3Bucket struct {
	client *minio.Client
	bucket string
}

func NewS3Bucket(cfg S3Config) (*S3Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket name is empty")
	}
	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Region: cfg.Region,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create client")
	}
	return &S3Bucket{client: client, bucket: cfg.Bucket}, nil
}

func (b *S3Bucket) Put(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := b.client.PutObject(ctx, b.bucket, key, reader, reader.Size(),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return errors.Wrapf(err, "put object '%s'", key)
}

func (b *S3Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get object '%s'", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	s3Err, ok := err.(minio.ErrorResponse)
	if err != nil && ok && s3Err.StatusCode == http.StatusNotFound {
		return nil, errors.Wrap(ErrNotFound, key)
	} else if err != nil {
		return nil, errors.Wrapf(err, "read object '%s'", key)
	}
	return data, nil
}
