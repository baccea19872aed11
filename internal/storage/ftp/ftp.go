// Package ftp provides the remote file service storage backend.
//
// Every operation opens its own connection, logs in, selects (or creates)
// the base directory, switches to binary mode and quits the connection on
// return, whatever the outcome. Locations have the form
// remote://<host>:<port><basePath>/<name>.
package ftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/storage"
)

// Config holds remote file service settings.
type Config struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username string        `json:"username"`
	Password string        `json:"password"`
	BasePath string        `json:"base_path"`
	Timeout  time.Duration `json:"timeout"`
}

// conn is the subset of *ftp.ServerConn the backend uses.
type conn interface {
	Login(user, password string) error
	Type(transferType ftp.TransferType) error
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Fetch(path string) (io.ReadCloser, error)
	Delete(path string) error
	List(path string) ([]*ftp.Entry, error)
	Quit() error
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (conn, error)

// Backend implements storage.Backend against an FTP server.
type Backend struct {
	cfg  Config
	addr string
	dial dialFunc
}

// New creates a remote backend. No connection is made until the first call.
func New(cfg Config) (*Backend, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ftp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")

	return &Backend{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		dial: dialServer,
	}, nil
}

func dialServer(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
	c, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

// serverConn adapts *ftp.ServerConn's Retr to an io.ReadCloser.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Fetch(path string) (io.ReadCloser, error) {
	return c.Retr(path)
}

// session dials, authenticates and enters the base directory. The caller
// must call the returned release func on every path.
func (b *Backend) session(ctx context.Context, op string, createBase bool) (conn, func(), error) {
	c, err := b.dial(ctx, b.addr, b.cfg.Timeout)
	if err != nil {
		return nil, func() {}, storage.Unreachable(storage.SchemeRemote, op, fmt.Errorf("dial %s: %w", b.addr, err))
	}

	release := func() {
		if err := c.Quit(); err != nil {
			logging.Debug("ftp quit failed", zap.String("addr", b.addr), zap.Error(err))
		}
	}

	if err := c.Login(b.cfg.Username, b.cfg.Password); err != nil {
		return nil, release, storage.Unreachable(storage.SchemeRemote, op, fmt.Errorf("login: %w", err))
	}
	if err := c.Type(ftp.TransferTypeBinary); err != nil {
		return nil, release, storage.Unreachable(storage.SchemeRemote, op, fmt.Errorf("binary mode: %w", err))
	}
	if err := c.ChangeDir(b.cfg.BasePath); err != nil {
		if !createBase {
			return nil, release, classify(op, fmt.Errorf("cwd %s: %w", b.cfg.BasePath, err))
		}
		if mkErr := c.MakeDir(b.cfg.BasePath); mkErr != nil {
			return nil, release, classify(op, fmt.Errorf("mkdir %s: %w", b.cfg.BasePath, mkErr))
		}
		if err := c.ChangeDir(b.cfg.BasePath); err != nil {
			return nil, release, classify(op, fmt.Errorf("cwd %s: %w", b.cfg.BasePath, err))
		}
	}
	return c, release, nil
}

// Put uploads data into the base directory.
func (b *Backend) Put(ctx context.Context, name string, data []byte) (string, error) {
	c, release, err := b.session(ctx, "put", true)
	defer release()
	if err != nil {
		return "", err
	}

	name = path.Base(name)
	if err := c.Stor(name, bytes.NewReader(data)); err != nil {
		return "", classify("put", fmt.Errorf("stor %s: %w", name, err))
	}

	logging.Debug("ftp stored file", zap.String("name", name), zap.Int("size", len(data)))
	return b.Location(name), nil
}

// Get downloads the file a location points to.
func (b *Backend) Get(ctx context.Context, location string) ([]byte, error) {
	name, err := b.fileName(location)
	if err != nil {
		return nil, err
	}

	c, release, err := b.session(ctx, "get", false)
	defer release()
	if err != nil {
		return nil, err
	}

	r, err := c.Fetch(name)
	if err != nil {
		return nil, classify("get", fmt.Errorf("retr %s: %w", name, err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.Unreachable(storage.SchemeRemote, "get", fmt.Errorf("read %s: %w", name, err))
	}
	return data, nil
}

// Delete removes the file a location points to.
func (b *Backend) Delete(ctx context.Context, location string) error {
	name, err := b.fileName(location)
	if err != nil {
		return err
	}

	c, release, err := b.session(ctx, "delete", false)
	defer release()
	if err != nil {
		return err
	}

	if err := c.Delete(name); err != nil {
		return classify("delete", fmt.Errorf("dele %s: %w", name, err))
	}
	return nil
}

// List enumerates regular files in the base directory.
func (b *Backend) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	c, release, err := b.session(ctx, "list", false)
	defer release()
	if err != nil {
		return nil, err
	}

	entries, err := c.List(".")
	if err != nil {
		return nil, classify("list", err)
	}

	var out []storage.ObjectInfo
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		out = append(out, storage.ObjectInfo{
			Location: b.Location(e.Name),
			Size:     int64(e.Size),
			ModTime:  e.Time,
		})
	}
	return out, nil
}

// Location formats the location string for a file in the base directory.
// The name is written verbatim, so locations are not URLs and must be read
// back with fileName rather than url.Parse.
func (b *Backend) Location(name string) string {
	return storage.SchemeRemote + "://" + b.addr + b.dirPrefix() + name
}

// dirPrefix is the base directory with a trailing slash.
func (b *Backend) dirPrefix() string {
	if b.cfg.BasePath == "/" {
		return "/"
	}
	return b.cfg.BasePath + "/"
}

// fileName extracts the file name from a location and checks that it
// belongs to this server and base directory. The legacy ftp:// scheme is
// accepted.
func (b *Backend) fileName(location string) (string, error) {
	scheme, rest, ok := strings.Cut(location, "://")
	if !ok || (!strings.EqualFold(scheme, storage.SchemeRemote) && !strings.EqualFold(scheme, "ftp")) {
		return "", fmt.Errorf("%w: %q", storage.ErrUnknownScheme, location)
	}
	host, p, _ := strings.Cut(rest, "/")
	if !strings.EqualFold(host, b.addr) {
		return "", storage.Rejected(storage.SchemeRemote, "resolve",
			fmt.Errorf("location %s is on %s, backend serves %s", location, host, b.addr))
	}
	name, ok := strings.CutPrefix("/"+p, b.dirPrefix())
	if !ok || strings.Contains(name, "/") {
		return "", storage.Rejected(storage.SchemeRemote, "resolve",
			fmt.Errorf("location %s is outside base path %s", location, b.cfg.BasePath))
	}
	if name == "" {
		return "", storage.Rejected(storage.SchemeRemote, "resolve", fmt.Errorf("location %s has no file name", location))
	}
	return name, nil
}

// Scheme returns "remote".
func (b *Backend) Scheme() string { return storage.SchemeRemote }

// Close is a no-op: connections never outlive a single call.
func (b *Backend) Close() error { return nil }

// classify maps FTP replies onto the storage taxonomy. 550 on a file is
// "not found", 552/553 mean the server refused the data, transient 4xx
// replies and transport errors are unreachable.
func classify(op string, err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch {
		case reply.Code == ftp.StatusFileUnavailable && op != "put":
			return storage.NotFound(storage.SchemeRemote, op, err)
		case reply.Code == ftp.StatusExceededStorage, reply.Code == ftp.StatusBadFileName:
			return storage.Rejected(storage.SchemeRemote, op, err)
		case reply.Code >= 500:
			return storage.Rejected(storage.SchemeRemote, op, err)
		}
	}
	return storage.Unreachable(storage.SchemeRemote, op, err)
}
