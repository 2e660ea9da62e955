// Package archive stores full-content snapshots in S3-compatible object
// storage, so article bodies survive the database retention sweeps.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trendwatch-io/trendwatch/internal/config"
	"github.com/trendwatch-io/trendwatch/internal/models"
)

// Client wraps an S3-compatible object storage client. An unconfigured
// client is valid and turns every operation into a logged no-op.
type Client struct {
	s3     *s3.Client
	bucket string
}

// snapshotMeta is stored alongside each archived body.
type snapshotMeta struct {
	SourceID   string    `json:"source_id"`
	Seq        string    `json:"seq"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
	Size       int       `json:"size"`
	SHA256     string    `json:"sha256"`
}

// NewClient creates a client for any S3-compatible endpoint. An empty
// endpoint disables archiving.
func NewClient(ctx context.Context, cfg config.ArchiveConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		slog.Warn("archive endpoint not configured, content archiving disabled")
		return &Client{bucket: cfg.Bucket}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &cfg.Endpoint
		o.UsePathStyle = true
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Configured reports whether uploads will actually happen.
func (c *Client) Configured() bool {
	return c.s3 != nil
}

// StoreContent compresses and uploads one item's full content plus a small
// metadata object, keyed by source and seq.
func (c *Client) StoreContent(ctx context.Context, item *models.NewsItem, sourceID string) error {
	if c.s3 == nil {
		return nil
	}
	if item.FullContent == "" {
		return nil
	}

	prefix := fmt.Sprintf("content/%s/%s", sourceID, item.Seq)

	meta := snapshotMeta{
		SourceID:   sourceID,
		Seq:        item.Seq,
		Title:      item.Title,
		URL:        item.URL,
		ArchivedAt: time.Now().UTC(),
		Size:       len(item.FullContent),
		SHA256:     fmt.Sprintf("%x", sha256.Sum256([]byte(item.FullContent))),
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal meta: %w", err)
	}

	compressed, err := gzipCompress([]byte(item.FullContent))
	if err != nil {
		return fmt.Errorf("archive: compress content: %w", err)
	}

	uploads := map[string][]byte{
		prefix + "/content.txt.gz": compressed,
		prefix + "/meta.json":      metaJSON,
	}
	for key, body := range uploads {
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &c.bucket,
			Key:    &key,
			Body:   bytes.NewReader(body),
		})
		if err != nil {
			return fmt.Errorf("archive: upload %s: %w", key, err)
		}
		slog.Debug("content archived", "key", key, "size", len(body))
	}
	return nil
}

// GetContent retrieves an archived body.
func (c *Client) GetContent(ctx context.Context, sourceID, seq string) (string, error) {
	if c.s3 == nil {
		return "", fmt.Errorf("archive: not configured")
	}

	key := fmt.Sprintf("content/%s/%s/content.txt.gz", sourceID, seq)
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return "", fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer out.Body.Close()

	zr, err := gzip.NewReader(out.Body)
	if err != nil {
		return "", fmt.Errorf("archive: open gzip %s: %w", key, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("archive: read %s: %w", key, err)
	}
	return string(data), nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
