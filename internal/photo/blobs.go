package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dharsanguruparan/QRescue/internal/storage"
)

// BlobStore holds photo bytes under opaque keys.
type BlobStore interface {
	PutPhoto(ctx context.Context, key string, data []byte, contentType string) error
	OpenPhoto(ctx context.Context, key string) (io.ReadCloser, error)
}

// DiskBlobs stores photos as files in one directory.
type DiskBlobs struct {
	dir string
}

// NewDiskBlobs creates dir if needed.
func NewDiskBlobs(dir string) (*DiskBlobs, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	return &DiskBlobs{dir: dir}, nil
}

// PutPhoto writes data to dir/key.
func (d *DiskBlobs) PutPhoto(_ context.Context, key string, data []byte, _ string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create photo file: %w", err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write photo file: %w", err)
	}
	return f.Close()
}

// OpenPhoto opens dir/key for reading.
func (d *DiskBlobs) OpenPhoto(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := d.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open photo file: %w", err)
	}
	return f, nil
}

// path rejects keys that would escape dir.
func (d *DiskBlobs) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) {
		return "", fmt.Errorf("invalid photo key %q", key)
	}
	return filepath.Join(d.dir, key), nil
}
