package tickets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// Storage keeps the original ticket images
type Storage interface {
	// Save stores data under name and returns the key to retrieve it
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)

	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates basePath if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

func (l *LocalStorage) Save(_ context.Context, name string, data []byte, _ string) (string, error) {
	path := filepath.Join(l.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (l *LocalStorage) Delete(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(l.basePath, key)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// GCSStorage implements Storage on a Google Cloud Storage bucket
type GCSStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStorage creates a client with application default credentials
func NewGCSStorage(ctx context.Context, bucket, prefix string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	return NewGCSStorageWithClient(client, bucket, prefix), nil
}

func NewGCSStorageWithClient(client *storage.Client, bucket, prefix string) *GCSStorage {
	return &GCSStorage{client: client, bucket: bucket, prefix: prefix}
}

func (g *GCSStorage) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(key)
}

func (g *GCSStorage) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := g.prefix + name
	wc := g.object(key).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("finalizing upload %s: %w", key, err)
	}
	return key, nil
}

func (g *GCSStorage) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := g.object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := g.object(key).Delete(ctx); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}
