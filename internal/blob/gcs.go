package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
)

// GCS stores blobs in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS connects with application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, eris.New("blob: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create storage client")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Put uploads data, refusing to replace an existing object.
func (g *GCS) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "blob: write gs://%s/%s", g.bucket, key)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return eris.Wrapf(ErrExists, "blob: gs://%s/%s", g.bucket, key)
		}
		return eris.Wrapf(err, "blob: close writer gs://%s/%s", g.bucket, key)
	}
	return nil
}

// Get downloads the object at key.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "blob: gs://%s/%s", g.bucket, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open gs://%s/%s", g.bucket, key)
	}
	defer r.Close() //nolint:errcheck

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read gs://%s/%s", g.bucket, key)
	}
	return data, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return eris.Wrap(g.client.Close(), "blob: close storage client")
}
