package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
)

type Config struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Server struct {
	mu           sync.Mutex
	public       *http.Server
	closed       bool
	publicRouter *chi.Mux
	routes       sync.Once

	handler *Handler
}

func New(handler *Handler) *Server {
	return &Server{
		publicRouter: chi.NewRouter(),

		handler: handler,
	}
}

// Router registers the public routes on first use and returns the mux.
func (s *Server) Router(mws ...func(http.Handler) http.Handler) http.Handler {
	s.routes.Do(func() {
		s.registerPublicRoutes(mws...)
	})
	return s.publicRouter
}

func (s *Server) ServePublic(cfg Config, mws ...func(http.Handler) http.Handler) error {
	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(mws...),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.public = srv
	s.mu.Unlock()

	return srv.ListenAndServe()
}

// ShutdownPublic stops the public server. A later ServePublic returns
// http.ErrServerClosed right away.
func (s *Server) ShutdownPublic(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.public
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) registerPublicRoutes(middlewares ...func(http.Handler) http.Handler) {
	h := s.handler

	s.publicRouter.Use(middlewares...)
	s.publicRouter.Get("/_/ready", h.Ready)
	s.publicRouter.Get("/healthz", h.Healthz)
	s.publicRouter.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	s.publicRouter.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.admit(h.planLimiter, limiterPlan), h.apiKeyAuth)
			r.Post("/event", h.Event)
			r.Post("/event/batch", h.EventBatch)
		})

		r.Route("/project", func(r chi.Router) {
			r.With(h.admit(h.ipLimiter, limiterIP), h.bearerAuth).Post("/", h.CreateProject)
			r.With(h.bearerAuth).Get("/{project_id}", h.GetProject)
		})
	})
}
