// Package blob provides the object-storage backend for item images,
// backed by an S3-compatible server via the MinIO client.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pocketlist/pocketlist/internal/remote"
)

// downloadURLExpiry bounds presigned download URLs. Records hold the URL
// long-term, so this is kept at the maximum the protocol allows.
const downloadURLExpiry = 7 * 24 * time.Hour

// Config holds connection settings for the blob container.
type Config struct {
	// Endpoint is the S3-compatible server, host:port.
	Endpoint string

	// AccessKey and SecretKey authenticate the client.
	AccessKey string
	SecretKey string

	// Bucket is the bucket holding all user image containers.
	Bucket string

	// Secure enables TLS.
	Secure bool

	// Logger for container activity. Defaults to stderr.
	Logger *log.Logger
}

// Container implements remote.Blobs against a single bucket.
type Container struct {
	client *minio.Client
	bucket string
	logger *log.Logger
}

// New connects to the object store described by cfg.
func New(cfg Config) (*Container, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[blob] ", log.LstdFlags)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Container{
		client: client,
		bucket: cfg.Bucket,
		logger: cfg.Logger,
	}, nil
}

// Put implements remote.Blobs. Progress is reported as the backend
// consumes the payload; the final callback carries sent == total.
func (c *Container) Put(ctx context.Context, path string, data []byte, contentType string, progress remote.ProgressFunc) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if progress != nil {
		opts.Progress = &progressTracker{total: int64(len(data)), report: progress}
	}

	_, err := c.client.PutObject(ctx, c.bucket, path, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

// DownloadURL implements remote.Blobs.
func (c *Container) DownloadURL(ctx context.Context, path string) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, path, downloadURLExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve URL for %s: %w", path, err)
	}
	return u.String(), nil
}

// Delete implements remote.Blobs.
func (c *Container) Delete(ctx context.Context, path string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// DeleteByURL implements remote.Blobs. The object key is reconstructed
// from the URL path; URLs that don't resolve to a key are ignored, since
// blob deletion on item removal is best effort.
func (c *Container) DeleteByURL(ctx context.Context, rawURL string) error {
	key := ObjectKey(rawURL, c.bucket)
	if key == "" {
		c.logger.Printf("Warning: cannot derive object key from %q, skipping delete", rawURL)
		return nil
	}
	return c.Delete(ctx, key)
}

// ObjectKey extracts the object key from a download URL, handling both
// path-style (host/bucket/key) and virtual-host-style (bucket.host/key)
// addressing. Returns "" when no key can be derived.
func ObjectKey(rawURL, bucket string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	key := strings.TrimPrefix(u.Path, "/")
	if rest, ok := strings.CutPrefix(key, bucket+"/"); ok {
		key = rest
	}
	return key
}

// progressTracker adapts the MinIO progress reader protocol to a
// ProgressFunc. The client hands it the transferred chunks; only their
// lengths matter.
type progressTracker struct {
	total  int64
	sent   int64
	report remote.ProgressFunc
}

func (p *progressTracker) Read(b []byte) (int, error) {
	p.sent += int64(len(b))
	if p.sent > p.total {
		p.sent = p.total
	}
	p.report(p.sent, p.total)
	return len(b), nil
}
