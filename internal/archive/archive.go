// Package archive copies payment evidence out of the messenger into object
// storage so receipts outlive the chat history.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/domain"
)

// Config points at an S3 compatible endpoint. An empty endpoint disables
// archiving.
type Config struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ARCHIVE_ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"ARCHIVE_SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"ARCHIVE_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"ARCHIVE_USE_SSL"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

// Fetcher streams a file held by the messenger.
type Fetcher interface {
	Fetch(ctx context.Context, file domain.FileRef) (io.ReadCloser, error)
}

// Archiver stores payment evidence and returns the object key.
type Archiver interface {
	ArchiveEvidence(ctx context.Context, p domain.Payment) (string, error)
}

// Nop archives nothing.
type Nop struct{}

func (Nop) ArchiveEvidence(context.Context, domain.Payment) (string, error) { return "", nil }

// MinioArchiver uploads evidence with minio-go.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	fetch  Fetcher
}

// NewMinioArchiver connects and makes sure the bucket exists.
func NewMinioArchiver(ctx context.Context, cfg Config, fetch Fetcher) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "studybot-receipts"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		logger.Info(ctx, "archive", "bucket.created", slog.String("bucket", bucket))
	}
	return &MinioArchiver{client: client, bucket: bucket, fetch: fetch}, nil
}

func (a *MinioArchiver) ArchiveEvidence(ctx context.Context, p domain.Payment) (string, error) {
	body, err := a.fetch.Fetch(ctx, p.Evidence)
	if err != nil {
		return "", fmt.Errorf("fetch evidence %s: %w", p.Evidence.ID, err)
	}
	defer body.Close()

	key := ObjectKey(p)
	start := time.Now()
	info, err := a.client.PutObject(ctx, a.bucket, key, body, -1, minio.PutObjectOptions{
		ContentType: contentType(p.Evidence),
		UserMetadata: map[string]string{
			"request-id": fmt.Sprint(p.RequestID),
			"payment-id": fmt.Sprint(p.ID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	logger.Info(ctx, "archive", "evidence.stored",
		slog.String("bucket", a.bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size),
		slog.Duration("duration", time.Since(start)),
	)
	return key, nil
}

// ObjectKey is "payments/<request>/<payment>-<name>".
func ObjectKey(p domain.Payment) string {
	name := path.Base(strings.ReplaceAll(p.Evidence.Name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = p.Evidence.ID
		if p.Evidence.Kind == domain.FilePhoto {
			name += ".jpg"
		}
	}
	return fmt.Sprintf("payments/%d/%d-%s", p.RequestID, p.ID, name)
}

func contentType(f domain.FileRef) string {
	if f.Kind == domain.FilePhoto {
		return "image/jpeg"
	}
	switch strings.ToLower(path.Ext(f.Name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}
