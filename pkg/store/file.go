package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileBackend keeps each component at <dir>/<id>/<component>.json
type FileBackend struct {
	dir string
}

// NewFileBackend creates the data directory if needed
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// NewFileStore is a Store backed by the local filesystem
func NewFileStore(dir string) (*Store, error) {
	backend, err := NewFileBackend(dir)
	if err != nil {
		return nil, err
	}
	return New(backend, nil), nil
}

func (b *FileBackend) path(id, component string) string {
	return filepath.Join(b.dir, id, component+".json")
}

// Put writes through a temp file and rename so readers never see a torn document
func (b *FileBackend) Put(ctx context.Context, id, component string, data []byte) error {
	path := b.path(id, component)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (b *FileBackend) Get(ctx context.Context, id, component string) ([]byte, error) {
	data, err := os.ReadFile(b.path(id, component))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", component, err)
	}
	return data, nil
}

// List returns the ids of task directories holding a task document
func (b *FileBackend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(b.path(e.Name(), ComponentTask)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
