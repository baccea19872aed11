// Package storage defines the Backend interface for contract file bytes and
// a Router that writes through an ordered list of backends with fallback.
package storage

import (
	"context"
	"time"
)

// Backend is the interface for physical storage media.
// Implementations handle raw byte I/O only (local disk, remote file service,
// object store). Version metadata lives in the contract store.
type Backend interface {
	// Put writes data under name and returns the location string that
	// addresses it. The location must carry the backend's scheme so the
	// router can dispatch later reads and deletes.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Get reads the bytes at location. Missing objects yield ErrNotFound.
	Get(ctx context.Context, location string) ([]byte, error)

	// Delete removes the object at location. Deleting a missing object
	// returns nil or an error matching ErrNotFound.
	Delete(ctx context.Context, location string) error

	// Scheme returns the location scheme this backend owns ("local", "remote", "s3").
	Scheme() string

	// Close releases any resources held by the backend.
	Close() error
}

// Lister is implemented by backends that can enumerate their objects.
// It is used by the orphan sweep.
type Lister interface {
	List(ctx context.Context) ([]ObjectInfo, error)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Location string
	Size     int64
	ModTime  time.Time
}
