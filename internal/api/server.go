package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/config"
	"github.com/taskwire/jobstream/internal/metrics"
	"github.com/taskwire/jobstream/internal/registry"
	"github.com/taskwire/jobstream/internal/stream"
	"github.com/taskwire/jobstream/internal/worker"
)

const submitTimeout = 10 * time.Second

// Server wires HTTP handlers to the registry, dispatcher, and worker runner.
type Server struct {
	router     chi.Router
	registry   *registry.Registry
	dispatcher *stream.Dispatcher
	runner     *worker.Runner
	cfg        config.Config
	logger     *zap.Logger

	// base is the lifetime context handed to worker goroutines, so jobs
	// outlive the requests that started them but stop on shutdown.
	base context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	base context.Context,
	reg *registry.Registry,
	dispatcher *stream.Dispatcher,
	runner *worker.Runner,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		registry:   reg,
		dispatcher: dispatcher,
		runner:     runner,
		cfg:        cfg,
		logger:     logger,
		base:       base,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The stream routes stay outside the timeout handler: they are
	// long-lived and need the flusher/hijacker of the raw writer.
	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(timeoutMiddleware(submitTimeout)).Post("/", s.startJob)
		r.With(timeoutMiddleware(submitTimeout)).Get("/", s.listJobs)
		r.Route("/{job_id}", func(r chi.Router) {
			r.With(timeoutMiddleware(submitTimeout)).Get("/", s.getJob)
			r.Get("/events", s.streamEvents)
			r.Get("/ws", s.streamWebSocket)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// All dependencies are in-memory; ready as soon as we serve.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
