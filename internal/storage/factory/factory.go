// Package factory assembles the storage router from configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/storage"
	"github.com/contractvault/contractvault/internal/storage/ftp"
	"github.com/contractvault/contractvault/internal/storage/local"
	"github.com/contractvault/contractvault/internal/storage/s3"
)

// NewRouter creates one backend per entry of cfg.StorageOrder and returns a
// router over them in that order. A remote backend without a host is
// skipped so that a bare local setup works out of the box.
func NewRouter(ctx context.Context, cfg *config.Config) (*storage.Router, error) {
	var backends []storage.Backend

	for _, name := range cfg.StorageOrder {
		switch name {
		case storage.SchemeRemote:
			if cfg.FTP.Host == "" {
				logging.Warn("remote storage listed but FTP_HOST is empty, skipping")
				continue
			}
			b, err := ftp.New(ftp.Config{
				Host:     cfg.FTP.Host,
				Port:     cfg.FTP.Port,
				Username: cfg.FTP.Username,
				Password: cfg.FTP.Password,
				BasePath: cfg.FTP.BasePath,
				Timeout:  cfg.FTP.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("create remote backend: %w", err)
			}
			backends = append(backends, b)

		case storage.SchemeLocal:
			b, err := local.New(local.Config{RootPath: cfg.LocalStoragePath})
			if err != nil {
				return nil, fmt.Errorf("create local backend: %w", err)
			}
			backends = append(backends, b)

		case storage.SchemeS3:
			b, err := s3.New(ctx, s3Config(cfg.S3))
			if err != nil {
				return nil, fmt.Errorf("create s3 backend: %w", err)
			}
			backends = append(backends, b)

		default:
			return nil, fmt.Errorf("unknown storage backend: %s", name)
		}

		logging.Info("storage backend enabled", logging.Backend(name))
	}

	return storage.NewRouter(backends, storage.WithRetries(cfg.RemoteRetries))
}

func s3Config(c config.S3Config) s3.Config {
	return s3.Config{
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		UseSSL:    c.UseSSL,
		Prefix:    c.Prefix,
	}
}
