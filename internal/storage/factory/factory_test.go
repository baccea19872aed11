package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/storage"
)

func init() {
	logging.InitNop()
}

func TestNewRouterOrder(t *testing.T) {
	cfg := &config.Config{
		StorageOrder:     []string{"remote", "local"},
		LocalStoragePath: t.TempDir(),
		FTP:              config.FTPConfig{Host: "files.example.com", Port: 21, BasePath: "/contracts"},
	}

	r, err := NewRouter(context.Background(), cfg)
	require.NoError(t, err)
	defer r.Close()

	backends := r.Backends()
	require.Len(t, backends, 2)
	assert.Equal(t, storage.SchemeRemote, backends[0].Scheme())
	assert.Equal(t, storage.SchemeLocal, backends[1].Scheme())
}

func TestNewRouterSkipsRemoteWithoutHost(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		StorageOrder:     []string{"remote", "local"},
		LocalStoragePath: root,
	}

	r, err := NewRouter(context.Background(), cfg)
	require.NoError(t, err)

	loc, err := r.Store(context.Background(), "a.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(loc))
}

func TestNewRouterErrors(t *testing.T) {
	_, err := NewRouter(context.Background(), &config.Config{StorageOrder: []string{"tape"}})
	assert.Error(t, err)

	_, err = NewRouter(context.Background(), &config.Config{StorageOrder: []string{"remote"}})
	assert.Error(t, err, "no usable backends")
}

func TestS3ConfigCarriesPrefix(t *testing.T) {
	got := s3Config(config.S3Config{
		Endpoint: "minio:9000",
		Bucket:   "contracts",
		Region:   "us-east-1",
		Prefix:   "tenant-a/",
	})
	assert.Equal(t, "contracts", got.Bucket)
	assert.Equal(t, "minio:9000", got.Endpoint)
	assert.Equal(t, "tenant-a/", got.Prefix)
}
