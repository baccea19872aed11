// Package app wires configuration into a running contract service. Both the
// server and the admin CLI build on it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/contract"
	"github.com/contractvault/contractvault/internal/extract"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metadata/memory"
	"github.com/contractvault/contractvault/internal/metadata/postgres"
	"github.com/contractvault/contractvault/internal/storage"
	"github.com/contractvault/contractvault/internal/storage/factory"
)

// MetadataStore is a contract store that holds resources.
type MetadataStore interface {
	contract.Store
	Close() error
}

// App holds the assembled components.
type App struct {
	Config  *config.Config
	Store   MetadataStore
	DB      *postgres.Store // nil when metadata is in memory
	Router  *storage.Router
	Service *contract.Service
}

// New opens the metadata store, builds the storage router and extractor and
// assembles the contract service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.DatabaseURL != "" {
		logging.Info("connecting to PostgreSQL...")
		db, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection: %w", err)
		}
		if dir := FindMigrationsDir(); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := db.Migrate(dir); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		} else {
			logging.Warn("no migrations directory found, assuming schema is current")
		}
		a.DB = db
		a.Store = db
	} else {
		logging.Warn("DATABASE_URL not set, keeping metadata in memory")
		a.Store = memory.New()
	}

	router, err := factory.NewRouter(ctx, cfg)
	if err != nil {
		a.Store.Close()
		return nil, err
	}
	a.Router = router

	vm, err := contract.NewVersionManager(a.Store, router, NewExtractor(cfg), contract.VersionConfig{
		HashAlgorithm:           cfg.HashAlgorithm,
		HashScope:               cfg.HashScope,
		CleanupOnExtractFailure: cfg.CleanupOnExtractFailure,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = contract.NewService(a.Store, router, vm)

	order := make([]string, 0, len(router.Backends()))
	for _, b := range router.Backends() {
		order = append(order, b.Scheme())
	}
	logging.Info("contract service ready",
		zap.Strings("storage_order", order),
		zap.String("extractor", cfg.Extractor),
		zap.String("hash_algorithm", cfg.HashAlgorithm),
		zap.String("hash_scope", cfg.HashScope),
		zap.Bool("postgres", a.DB != nil))
	return a, nil
}

// NewExtractor returns the configured text extractor.
func NewExtractor(cfg *config.Config) extract.Extractor {
	if cfg.Extractor == "docx" {
		return extract.DocxExtractor{}
	}
	return extract.NewTika(cfg.TikaURL, 0)
}

// Sweep removes stored objects no live version references.
func (a *App) Sweep(ctx context.Context, grace time.Duration, dryRun bool) (*storage.SweepReport, error) {
	live, err := a.Store.LiveLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("live locations: %w", err)
	}
	return a.Router.Sweep(ctx, live, grace, dryRun)
}

// Close releases the router and the metadata store.
func (a *App) Close() {
	if a.Router != nil {
		if err := a.Router.Close(); err != nil {
			logging.Warn("close storage router", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logging.Warn("close metadata store", zap.Error(err))
		}
	}
}

// FindMigrationsDir looks for the SQL migrations next to the working
// directory or the executable. It returns "" when none is found.
func FindMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(dir)
			return abs
		}
	}
	return ""
}
