// ContractVault Server
//
// Features:
// - Contract metadata and immutable file versions
// - Content-hash deduplication
// - Ordered storage backends with fallback (remote FTP, S3, local)
// - Text extraction via Apache Tika and full-text search
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/api"
	"github.com/contractvault/contractvault/internal/app"
	"github.com/contractvault/contractvault/internal/auth"
	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("ContractVault Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	var db api.Pinger
	if a.DB != nil {
		db = a.DB
	}
	var authHandler *auth.Auth
	if cfg.JWTSecret != "" {
		authHandler = auth.New(cfg.JWTSecret)
		logging.Info("bearer token authentication enabled")
	} else {
		logging.Warn("JWT_SECRET not set, trusting the " + api.CreatorHeader + " header")
	}
	srv := api.NewServer(a.Service, db, authHandler, cfg.MaxUploadSize)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http shutdown", zap.Error(err))
		}
		metricsServer.Close()
	}()

	// Start periodic metrics update
	if a.DB != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.DB.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Start periodic orphan sweep
	if cfg.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					report, err := a.Sweep(ctx, cfg.SweepGrace, false)
					if err != nil {
						logging.Error("orphan sweep failed", zap.Error(err))
						continue
					}
					if report.Removed > 0 || report.Failed > 0 {
						logging.Info("orphan sweep completed",
							zap.Int("scanned", report.Scanned),
							zap.Int("removed", report.Removed),
							zap.Int("failed", report.Failed))
					}
				}
			}
		}()
	}

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
