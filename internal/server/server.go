package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tryon/internal/config"
	"tryon/internal/logging"
	"tryon/internal/tryon"
	"tryon/internal/workflow"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// StatusSource reports dispatcher state for /api/status.
type StatusSource interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// Server owns the router and the listener.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	svc      *tryon.Service
	status   StatusSource
	uploader Uploader
	started  time.Time
	now      func() time.Time

	router chi.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithUploader overrides the upload backend.
func WithUploader(uploader Uploader) Option {
	return func(s *Server) {
		if uploader != nil {
			s.uploader = uploader
		}
	}
}

// WithClock overrides the time source used for health reporting.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the router. status may be nil when no dispatcher runs.
func New(cfg *config.Config, svc *tryon.Service, status StatusSource, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("server requires config and try-on service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "server"),
		svc:    svc,
		status: status,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.uploader == nil {
		uploader, err := NewUploader(cfg)
		if err != nil {
			return nil, err
		}
		s.uploader = uploader
	}
	s.started = s.now()
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.cfg.Server.CORSOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", clientIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestContext)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(bodyLimit(s.cfg.Server.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/", s.handleRoot)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter())
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.cfg.Server.APIToken))

			r.Post("/try-on", s.handleTryOn)
			r.Post("/upload", s.handleUpload)
			r.Get("/status", s.handleStatus)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.handleEnqueue)
				r.Get("/", s.handleListJobs)
				r.Get("/{id}", s.handleGetJob)
				r.Post("/{id}/retry", s.handleRetryJob)
				r.Post("/{id}/cancel", s.handleCancelJob)
			})

			r.Get("/favorites", s.handleFavorites)
			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.handleHistory)
				r.Delete("/", s.handleClearHistory)
				r.Get("/{id}", s.handleGetHistory)
				r.Put("/{id}/favorite", s.handleFavorite)
				r.Delete("/{id}", s.handleDeleteHistory)
			})
		})
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured address and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("server already started")
	}
	listener, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.writeTimeout(),
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.server = srv

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the bind address and restart"),
				logging.String(logging.FieldImpact, "HTTP API unavailable"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "server_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		_ = srv.Close()
	}
}

// writeTimeout leaves room for a synchronous fal.ai call including retries.
func (s *Server) writeTimeout() time.Duration {
	timeout := s.cfg.FalTimeout()
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return 3*timeout + 15*time.Second
}
