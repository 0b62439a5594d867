package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/metrics"
	"github.com/skyhook-io/kubedash/internal/rbac"
)

// Server is the kubedash HTTP API server
type Server struct {
	router     *chi.Mux
	svc        *deploy.Service
	authz      *rbac.Authorizer
	port       int
	timeout    time.Duration
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Port           int
	Service        *deploy.Service
	Authorizer     *rbac.Authorizer // nil allows everything
	AllowedOrigins []string
	RequestTimeout time.Duration // applies to every route except the watch stream
}

// New creates a new server instance
func New(cfg Config) *Server {
	authz := cfg.Authorizer
	if authz == nil {
		authz = rbac.AllowAll()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		router:  chi.NewRouter(),
		svc:     cfg.Service,
		authz:   authz,
		port:    cfg.Port,
		timeout: timeout,
	}
	s.setupRoutes(cfg.AllowedOrigins)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(origins []string) {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", userHeader, groupsHeader},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.Timeout(s.timeout)).Get("/health", s.handleHealth)
		r.With(middleware.Timeout(s.timeout)).Get("/clusters", s.handleClusters)

		r.Route("/clusters/{cluster}/deployments/{namespace}/{name}", func(r chi.Router) {
			// websocket connections outlive any request timeout
			r.Get("/watch", s.handleWatch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.timeout))

				r.Get("/", s.handleGetDeployment)
				r.Post("/restart", s.handleRestart)
				r.Post("/scale", s.handleScale)
				r.Put("/edit", s.handleEdit)
				r.Post("/rollback", s.handleRollback)
				r.Post("/suspend", s.handleSuspend)
				r.Post("/resume", s.handleResume)

				r.Get("/helm/detect", s.handleDetectHelmRelease)
				r.Get("/helm/history", s.handleHelmHistory)
				r.Get("/helm/values", s.handleHelmValues)
				r.Get("/flux/status", s.handleFluxStatus)
				r.Get("/history", s.handleActionHistory)
			})
		})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	klog.Infof("Starting kubedash server on http://localhost%s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"clusters": len(s.svc.Clusters().List()),
	})
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Clusters().List())
}
