package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersister keeps one JSON file per collection under a directory.
type FilePersister struct {
	dir string
}

// NewFilePersister creates dir if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

// Save replaces the collection file atomically: readers see either the old
// snapshot or the new one, never a partial write.
func (f *FilePersister) Save(_ context.Context, collection string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, collection+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(collection)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the collection file.
func (f *FilePersister) Load(_ context.Context, collection string) ([]byte, error) {
	data, err := os.ReadFile(f.path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (f *FilePersister) path(collection string) string {
	return filepath.Join(f.dir, collection+".json")
}
