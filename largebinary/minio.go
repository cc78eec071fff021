package largebinary

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/cube2222/udfbridge/udferr"
)

// MinioConfig holds the S3 connection settings.
type MinioConfig struct {
	// Endpoint may carry an http:// or https:// scheme, https enables TLS.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// PartSize of multipart uploads, in bytes.
	PartSize uint64
}

const DefaultPartSize = 50 * 1024 * 1024

func DefaultMinioConfig() MinioConfig {
	return MinioConfig{
		Endpoint:  "http://localhost:9000",
		Region:    "us-west-2",
		AccessKey: "texera_minio",
		SecretKey: "password",
		PartSize:  DefaultPartSize,
	}
}

// MinioBackend stores payloads in S3 or MinIO.
type MinioBackend struct {
	client   *minio.Client
	region   string
	partSize uint64
}

func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	endpoint := cfg.Endpoint
	secure := false
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secure = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, udferr.Storage(udferr.StorageUnavailable, "", err, "couldn't create S3 client for '%s'", cfg.Endpoint)
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	return &MinioBackend{
		client:   client,
		region:   cfg.Region,
		partSize: partSize,
	}, nil
}

func (b *MinioBackend) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return classify(err, "couldn't check bucket '%s'", bucket)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
		// Lost a creation race with another writer.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return classify(err, "couldn't create bucket '%s'", bucket)
	}
	return nil
}

func (b *MinioBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	_, err := b.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    b.partSize,
	})
	if err != nil {
		return classify(err, "couldn't upload object '%s/%s'", bucket, key)
	}
	return nil
}

func (b *MinioBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, classify(err, "couldn't open object '%s/%s'", bucket, key)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, classify(err, "couldn't open object '%s/%s'", bucket, key)
	}
	return obj, info.Size, nil
}

func (b *MinioBackend) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, classify(err, "couldn't stat object '%s/%s'", bucket, key)
	}
	return info.Size, nil
}

func (b *MinioBackend) Remove(ctx context.Context, bucket, key string) error {
	if err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify(err, "couldn't remove object '%s/%s'", bucket, key)
	}
	return nil
}

func classify(err error, format string, args ...interface{}) error {
	return udferr.Storage(storageKindOf(err), "", err, format, args...)
}

func storageKindOf(err error) udferr.StorageKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return udferr.StorageOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return udferr.StorageNetwork
	}

	response := minio.ToErrorResponse(err)
	switch response.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return udferr.StorageNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return udferr.StorageAuth
	}
	switch response.StatusCode {
	case http.StatusNotFound:
		return udferr.StorageNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return udferr.StorageAuth
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return udferr.StorageNetwork
	}
	return udferr.StorageOther
}
