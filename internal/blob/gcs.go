package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

type GCSConfig struct {
	Bucket          string
	PublicBaseURL   string
	CredentialsJSON string
}

// NewGCSStore uses application default credentials unless CredentialsJSON is set.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, publicBaseURL: base}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	wc := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "public, max-age=31536000"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	return g.publicBaseURL + "/" + key, nil
}

func (g *GCSStore) Delete(ctx context.Context, keyOrURL string) error {
	key := KeyFromURL(g.publicBaseURL, keyOrURL)
	if key == "" {
		return nil
	}
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}
