// Package blob stores the original uploaded contract files.
package blob

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = eris.New("blob: not found")

// ErrExists is returned by Put when the key is already taken.
var ErrExists = eris.New("blob: already exists")

// Store is a durable blob store. Keys are never overwritten.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Key builds "{ownerID}/{generated}{ext}" for an uploaded file, keeping the
// original extension.
func Key(ownerID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return ownerID + "/" + uuid.NewString() + ext
}

// New opens the configured blob store.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocal(cfg.Root)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket)
	default:
		return nil, eris.Errorf("blob: unknown provider %q", cfg.Provider)
	}
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return eris.Errorf("blob: invalid key %q", key)
	}
	return nil
}
