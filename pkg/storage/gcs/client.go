// Package gcs stores evidence blobs in a Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gstorage "google.golang.org/api/storage/v1"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/gcp"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const pingTimeout = 5 * time.Second

// ErrObjectNotFound is returned by Get when the object does not exist.
var ErrObjectNotFound = errors.New("gcs object not found")

type Client struct {
	objects *gstorage.ObjectsService
	buckets *gstorage.BucketsService
	bucket  string
	prefix  string
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcpCfg config.GCPConfig, logg *logger.Logger) (*Client, error) {
	client, err := newClient(ctx, cfg, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", client.bucket), "gcs client initialized")
	}
	return client, nil
}

func newClient(ctx context.Context, cfg config.GCSConfig, opts ...option.ClientOption) (*Client, error) {
	bucket := strings.TrimSpace(cfg.BucketName)
	if bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	svc, err := gstorage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Client{
		objects: svc.Objects,
		buckets: svc.Buckets,
		bucket:  bucket,
		prefix:  strings.Trim(strings.TrimSpace(cfg.ObjectPrefix), "/"),
	}, nil
}

func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

// ObjectName maps an upload key onto the configured prefix.
func (c *Client) ObjectName(key string) string {
	if c.prefix == "" {
		return key
	}
	return path.Join(c.prefix, key)
}

// Ping checks the bucket is visible to the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.buckets == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.buckets.Get(c.bucket).Context(ctx).Do(); err != nil {
		return fmt.Errorf("bucket %q: %w", c.bucket, err)
	}
	return nil
}

// Put writes data under name with the given content type.
func (c *Client) Put(ctx context.Context, name, contentType string, data []byte) error {
	if c == nil || c.objects == nil {
		return errors.New("gcs client not initialized")
	}
	object := &gstorage.Object{Name: name, ContentType: contentType}
	_, err := c.objects.Insert(c.bucket, object).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Get reads the full object body.
func (c *Client) Get(ctx context.Context, name string) ([]byte, error) {
	if c == nil || c.objects == nil {
		return nil, errors.New("gcs client not initialized")
	}
	resp, err := c.objects.Get(c.bucket, name).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
