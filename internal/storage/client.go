package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint      string
	Access        string
	Secret        string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Client stores reference and proof photos in an S3-compatible bucket.
// Uploads go directly from the browser via presigned PUT URLs; the API only
// verifies the object afterwards and derives its public URL.
type Client struct {
	minio         *minio.Client
	bucket        string
	publicBaseURL string
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	publicBase := strings.TrimSuffix(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &Client{
		minio:         mc,
		bucket:        cfg.Bucket,
		publicBaseURL: publicBase,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return u.String(), nil
}

func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectKey, err)
}

// ObjectURL returns the public URL the comparison provider and frontend will
// fetch the photo from.
func (c *Client) ObjectURL(objectKey string) string {
	return c.publicBaseURL + "/" + strings.TrimPrefix(objectKey, "/")
}

// ValidateImage confirms that a stored object decodes as a supported image
// before it is accepted as a proof photo.
func (c *Client) ValidateImage(ctx context.Context, objectKey string) error {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	// DecodeConfig only needs the header, not the whole photo.
	header, err := io.ReadAll(io.LimitReader(obj, sniffLimit))
	if err != nil {
		return fmt.Errorf("read object %s: %w", objectKey, err)
	}

	if _, err := SniffImage(header); err != nil {
		return fmt.Errorf("object %s: %w", objectKey, err)
	}
	return nil
}
