// Package logging holds the process-wide zap logger, request-scoped loggers
// and the field constructors shared by the contract and storage packages.
package logging

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	ctxLogger ctxKey = iota
	ctxRequestID
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	// base logs at the caller's frame; helpers is base with one frame
	// skipped for the package-level Info/Warn/... wrappers.
	base    atomic.Pointer[zap.Logger]
	helpers atomic.Pointer[zap.Logger]
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init builds the process logger. Unknown levels fall back to info.
func Init(cfg Config) error {
	level.SetLevel(parseLevel(cfg.Level, zapcore.InfoLevel))

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	install(logger)
	return nil
}

// InitNop discards all output. Used by tests.
func InitNop() {
	install(zap.NewNop())
}

func install(logger *zap.Logger) {
	base.Store(logger)
	helpers.Store(logger.WithOptions(zap.AddCallerSkip(1)))
}

// SetLevel changes the level at runtime. Invalid names are ignored.
func SetLevel(name string) {
	level.SetLevel(parseLevel(name, level.Level()))
}

func parseLevel(name string, fallback zapcore.Level) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fallback
	}
	return l
}

// Sync flushes buffered entries.
func Sync() error {
	if l := base.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

// L returns the process logger. Before Init it is a production JSON logger.
func L() *zap.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	fallback, err := zap.NewProduction()
	if err != nil {
		fallback = zap.NewNop()
	}
	install(fallback)
	return fallback
}

func helper() *zap.Logger {
	if l := helpers.Load(); l != nil {
		return l
	}
	L()
	return helpers.Load()
}

// WithContext returns the request-scoped logger, or L.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxLogger).(*zap.Logger); ok {
		return l
	}
	return L()
}

// WithRequestID tags ctx and its logger with a request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, ctxLogger, WithContext(ctx).With(zap.String("request_id", id)))
	return context.WithValue(ctx, ctxRequestID, id)
}

// GetRequestID returns the request ID stored by WithRequestID.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

func Debug(msg string, fields ...zap.Field) { helper().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { helper().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { helper().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { helper().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { helper().Fatal(msg, fields...) }

// Common fields.

func ContractID(id int64) zap.Field      { return zap.Int64("contract_id", id) }
func VersionNumber(n int) zap.Field      { return zap.Int("version", n) }
func Location(location string) zap.Field { return zap.String("location", location) }
func Backend(scheme string) zap.Field    { return zap.String("backend", scheme) }

// Middleware assigns a request ID (reusing RequestIDHeader when the client
// sent one) and logs each completed request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := WithRequestID(r.Context(), id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		WithContext(ctx).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("size", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
