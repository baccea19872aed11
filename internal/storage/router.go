package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
	"github.com/contractvault/contractvault/internal/retry"
)

// Router writes through backends in preference order and dispatches reads
// and deletes by the scheme encoded in each location.
type Router struct {
	order    []Backend
	byScheme map[string]Backend
	retry    retry.Config
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRetries retries unreachable backends n extra times with backoff
// before falling through to the next one.
func WithRetries(n int) RouterOption {
	return func(r *Router) {
		r.retry.MaxAttempts = n + 1
	}
}

// WithRetryConfig replaces the backoff settings. MaxAttempts is kept.
func WithRetryConfig(cfg retry.Config) RouterOption {
	return func(r *Router) {
		attempts := r.retry.MaxAttempts
		r.retry = cfg
		r.retry.MaxAttempts = attempts
	}
}

// NewRouter creates a Router over backends, highest preference first.
// Each scheme may be registered once.
func NewRouter(backends []Backend, opts ...RouterOption) (*Router, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("no storage backends configured")
	}

	r := &Router{
		order:    backends,
		byScheme: make(map[string]Backend, len(backends)),
		retry:    retry.DefaultConfig(),
	}
	r.retry.MaxAttempts = 1
	for _, opt := range opts {
		opt(r)
	}
	r.retry.Retryable = IsUnreachable

	for _, b := range backends {
		if _, dup := r.byScheme[b.Scheme()]; dup {
			return nil, fmt.Errorf("duplicate storage backend for scheme %q", b.Scheme())
		}
		r.byScheme[b.Scheme()] = b
	}

	return r, nil
}

// Store writes data under a unique name derived from filename and returns
// the location. Unreachable backends are skipped; a rejection stops the
// attempt immediately.
func (r *Router) Store(ctx context.Context, filename string, data []byte) (string, error) {
	name := UniqueName(filename)
	var errs []error

	for _, b := range r.order {
		start := time.Now()
		location, err := retry.DoWithResult(ctx, r.retry, func() (string, error) {
			return b.Put(ctx, name, data)
		})
		metrics.RecordStorageOperation(b.Scheme(), "put", time.Since(start), err == nil)

		if err == nil {
			metrics.RecordBytesWritten(int64(len(data)))
			logging.Debug("stored object",
				logging.Backend(b.Scheme()),
				logging.Location(location),
				zap.Int("size", len(data)))
			return location, nil
		}

		if !IsUnreachable(err) {
			logging.Error("storage backend rejected write",
				logging.Backend(b.Scheme()),
				zap.String("name", name),
				zap.Error(err))
			return "", err
		}

		errs = append(errs, err)
		metrics.RecordStorageFallback(b.Scheme())
		logging.Warn("storage backend unreachable, falling back",
			logging.Backend(b.Scheme()),
			zap.String("name", name),
			zap.Error(err))
	}

	return "", fmt.Errorf("all storage backends failed: %w", errors.Join(errs...))
}

// Retrieve reads the bytes at location from the backend that wrote them.
func (r *Router) Retrieve(ctx context.Context, location string) ([]byte, error) {
	b, err := r.resolve(location)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := b.Get(ctx, location)
	metrics.RecordStorageOperation(b.Scheme(), "get", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Remove deletes the object at location. A missing object is success.
func (r *Router) Remove(ctx context.Context, location string) error {
	b, err := r.resolve(location)
	if err != nil {
		return err
	}

	start := time.Now()
	err = b.Delete(ctx, location)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	metrics.RecordStorageOperation(b.Scheme(), "delete", time.Since(start), err == nil)
	return err
}

// Backends returns the backends in preference order.
func (r *Router) Backends() []Backend {
	return r.order
}

func (r *Router) resolve(location string) (Backend, error) {
	scheme, err := SchemeOf(location)
	if err != nil {
		return nil, err
	}
	b, ok := r.byScheme[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for %q", ErrUnknownScheme, scheme)
	}
	return b, nil
}

// Close closes all backends.
func (r *Router) Close() error {
	var errs []error
	for _, b := range r.order {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
