package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Local stores blobs as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, eris.New("blob: local root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", root)
	}
	return &Local{root: root}, nil
}

// Put writes data under key, failing with ErrExists if the key is taken.
func (l *Local) Put(_ context.Context, key, _ string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	p := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return eris.Wrapf(err, "blob: create dir for %s", key)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return eris.Wrapf(ErrExists, "blob: %s", key)
	}
	if err != nil {
		return eris.Wrapf(err, "blob: create %s", key)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "blob: write %s", key)
	}
	return eris.Wrapf(f.Close(), "blob: close %s", key)
}

// Get reads the blob at key.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "blob: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", key)
	}
	return data, nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }
