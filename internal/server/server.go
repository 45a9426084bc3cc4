// Package server provides the HTTP API for pagerag.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/pagerag/internal/config"
	"github.com/hyperjump/pagerag/internal/indexer"
	"github.com/hyperjump/pagerag/internal/keyword"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/search"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/internal/tasks"
	"github.com/hyperjump/pagerag/internal/vector"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
)

const previewRoute = "/api/v1/previews/"

// PreviewURL returns the API path serving the preview stored at path.
func PreviewURL(path string) string {
	return previewRoute + filepath.Base(path)
}

// Server is the HTTP server for the pagerag API.
type Server struct {
	engine   *search.Engine
	indexer  *indexer.Indexer
	storage  storage.Storage
	registry *vector.Registry
	queue    *tasks.Queue
	keywords keyword.Index
	metrics  *metrics.Metrics
	cfg      *config.Config
	logger   *zap.Logger
	router   chi.Router
	server   *http.Server
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithTaskQueue enables asynchronous uploads and the task endpoints.
func WithTaskQueue(q *tasks.Queue) Option {
	return func(s *Server) { s.queue = q }
}

// WithKeywordIndex enables the keyword search endpoint.
func WithKeywordIndex(k keyword.Index) Option {
	return func(s *Server) { s.keywords = k }
}

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.Storage,
	registry *vector.Registry,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		engine:   engine,
		indexer:  idx,
		storage:  store,
		registry: registry,
		cfg:      cfg,
		logger:   utils.OrNop(logger),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	sc := s.cfg.Server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	if s.metrics != nil {
		r.Use(metricsMiddleware(s.metrics))
	}
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(sc.CORSOrigins))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	limiter := newRateLimiter(sc.RateLimitPerMinute, sc.RateLimitBurst, s.done)

	r.Route("/n8n/webhook", func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Post("/search", s.handleWebhookSearch)
		r.Post("/upload", s.handleWebhookUpload)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if sc.RequestTimeoutSecs > 0 {
			r.Use(middleware.Timeout(time.Duration(sc.RequestTimeoutSecs) * time.Second))
		}
		r.Use(s.authMiddleware)
		r.Use(limiter.middleware)

		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Post("/query", s.handleQuery)
		r.Post("/query/batch", s.handleBatchQuery)
		r.Get("/keyword", s.handleKeywordSearch)

		r.Delete("/index", s.handleClearIndex)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)

		r.Get("/previews/{name}", s.handlePreview)
		r.With(s.requireAdmin).Get("/status", s.handleStatus)
		r.With(s.requireAdmin).Get("/admin/stats", s.handleAdminStats)
	})
	return r
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("Starting server", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
