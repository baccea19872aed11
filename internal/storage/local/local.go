// Package local provides a local filesystem storage backend. It is the
// fallback of last resort: locations are absolute file paths.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/contractvault/contractvault/internal/storage"
)

const tempPrefix = ".contractvault-"

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string `json:"root_path" yaml:"root_path"`
}

// LocalBackend implements storage.Backend using the local filesystem.
type LocalBackend struct {
	rootPath string
}

// New creates a new local filesystem backend. The root directory is created
// lazily on the first write.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root path %s: %w", cfg.RootPath, err)
	}
	return &LocalBackend{rootPath: root}, nil
}

// Root returns the absolute root directory.
func (b *LocalBackend) Root() string { return b.rootPath }

// Put writes data to <root>/<name> atomically and returns the absolute path.
func (b *LocalBackend) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(b.rootPath, 0o755); err != nil {
		return "", classify("put", fmt.Errorf("create root %s: %w", b.rootPath, err))
	}

	path := filepath.Join(b.rootPath, filepath.Base(name))

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(b.rootPath, tempPrefix+"*.tmp")
	if err != nil {
		return "", classify("put", fmt.Errorf("create temp for %s: %w", name, err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", classify("put", fmt.Errorf("write %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", classify("put", fmt.Errorf("close temp for %s: %w", name, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", classify("put", fmt.Errorf("rename temp to %s: %w", name, err))
	}

	return path, nil
}

// Get reads a file by absolute path.
func (b *LocalBackend) Get(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(location))
	if err != nil {
		return nil, classify("get", err)
	}
	return data, nil
}

// Delete removes a file. A missing file is not an error.
func (b *LocalBackend) Delete(_ context.Context, location string) error {
	err := os.Remove(filepath.Clean(location))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classify("delete", err)
	}
	return nil
}

// List returns every stored object under the root directory.
func (b *LocalBackend) List(_ context.Context) ([]storage.ObjectInfo, error) {
	entries, err := os.ReadDir(b.rootPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, classify("list", err)
	}

	var out []storage.ObjectInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, storage.ObjectInfo{
			Location: filepath.Join(b.rootPath, e.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	return out, nil
}

// Scheme returns "local".
func (b *LocalBackend) Scheme() string { return storage.SchemeLocal }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }

// classify maps filesystem errors onto the storage taxonomy. Local disk has
// no network leg: disk full, permission denied and the rest are rejections.
func classify(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return storage.NotFound(storage.SchemeLocal, op, err)
	}
	return storage.Rejected(storage.SchemeLocal, op, err)
}
