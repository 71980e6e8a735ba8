// Package archive uploads statistics artifacts to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured is returned when an archive is built without an endpoint or bucket.
var ErrNotConfigured = errors.New("archive endpoint and bucket are required")

// Config describes the object storage target.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// ObjectPutter is the subset of *minio.Client used by the archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver stores artifacts under <prefix>stats/<feed id>.json in one bucket.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// New connects an Archiver to the configured endpoint.
func New(cfg Config) (*Archiver, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient builds an Archiver on an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// StatsKey is the object name of a feed's statistics artifact.
func (a *Archiver) StatsKey(feedID int64) string {
	return a.prefix + "stats/" + strconv.FormatInt(feedID, 10) + ".json"
}

// UploadStats stores one feed's statistics artifact.
func (a *Archiver) UploadStats(ctx context.Context, feedID int64, data []byte) error {
	_, err := a.client.PutObject(
		ctx,
		a.bucket,
		a.StatsKey(feedID),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
		},
	)
	if err != nil {
		return fmt.Errorf("s3 put object for feed %d: %w", feedID, err)
	}
	return nil
}
