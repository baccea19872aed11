// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/auth"
	"github.com/contractvault/contractvault/internal/contract"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
	"github.com/contractvault/contractvault/internal/storage"
)

// CreatorHeader carries the acting user's ID when bearer tokens are not
// configured.
const CreatorHeader = "X-User-ID"

// Response is the envelope every JSON endpoint returns.
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Pinger reports whether the metadata store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	service       *contract.Service
	db            Pinger
	auth          *auth.Auth
	maxUploadSize int64
}

// NewServer creates a new server. db may be nil when metadata is kept in
// memory. With a nil authHandler the creator is taken from CreatorHeader.
func NewServer(service *contract.Service, db Pinger, authHandler *auth.Auth, maxUploadSize int64) *Server {
	if maxUploadSize <= 0 {
		maxUploadSize = 50 * 1024 * 1024
	}
	return &Server{
		service:       service,
		db:            db,
		auth:          authHandler,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the routed HTTP handler with logging, metrics and panic
// recovery applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Get("/search", s.handleSearchAll)

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", s.handleListContracts)
			r.Post("/", s.handleCreateContract)
			r.Post("/upload", s.handleUploadContract)
			r.Post("/batch-upload", s.handleBatchUpload)
			r.Get("/number/{number}", s.handleGetContractByNumber)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetContract)
				r.Put("/", s.handleUpdateContract)
				r.Delete("/", s.handleDeleteContract)
				r.Put("/status", s.handleUpdateStatus)

				r.Get("/versions", s.handleListVersions)
				r.Post("/versions", s.handleCreateVersion)
				r.Get("/versions/latest", s.handleLatestVersion)
				r.Get("/versions/{number}", s.handleGetVersion)

				r.Get("/compare", s.handleCompare)
				r.Get("/content", s.handleContent)
				r.Get("/export", s.handleExport)
				r.Get("/search", s.handleSearchContract)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			logging.WithContext(r.Context()).Warn("health check: database unreachable", zap.Error(err))
			s.sendError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Response{
		Code:      code,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Response{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// sendServiceError maps a service error to a status code. Client errors
// carry the error text; server errors are logged and summarized.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := classify(err)
	if code >= 500 {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", code),
			zap.Error(err))
		if id := logging.GetRequestID(r.Context()); id != "" {
			message += " (request " + id + ")"
		}
	}
	s.sendError(w, code, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, contract.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, contract.ErrUnsupportedFormat), errors.Is(err, contract.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, contract.ErrDuplicateContent), errors.Is(err, contract.ErrDuplicateNumber):
		return http.StatusConflict, err.Error()
	case errors.Is(err, contract.ErrExtractionFailure):
		return http.StatusUnprocessableEntity, "content extraction failed"
	case errors.Is(err, contract.ErrStorageFailure) && errors.Is(err, storage.ErrUnreachable):
		return http.StatusServiceUnavailable, "file storage unavailable"
	case errors.Is(err, contract.ErrStorageFailure):
		return http.StatusBadGateway, "file storage failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}
