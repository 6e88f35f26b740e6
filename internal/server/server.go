// Package server assembles the HTTP surface: router, middleware chain and
// lifecycle. Handlers live in internal/handler; this package only wires them.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/handler"
	"github.com/kohaku-project/kohaku/internal/metrics"
	"github.com/kohaku-project/kohaku/internal/notify"
	"github.com/kohaku-project/kohaku/internal/openapi"
	"github.com/kohaku-project/kohaku/internal/scheduler"
	"github.com/kohaku-project/kohaku/internal/server/middleware"
	"github.com/kohaku-project/kohaku/internal/service"
	"github.com/kohaku-project/kohaku/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	RateLimit       int   // requests per minute per IP
	LoginRateLimit  int   // login attempts per minute per credential
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 * 1024 * 1024, // 1MB
		RateLimit:       120,
		LoginRateLimit:  10,
	}
}

// Server is the top-level HTTP server. It owns the chi router and the
// lifecycle; the credential, scheduler and notification subsystems are
// injected collaborators.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	keys       *service.APIKeyService
	sessions   *service.SessionService
	sched      *scheduler.Scheduler
	notifier   *notify.Router
	registry   *prometheus.Registry
	httpServer *http.Server
	logger     *slog.Logger

	bootstrapKey string
}

// New wires all routes and middleware and returns a server ready to listen.
func New(
	cfg Config,
	st *store.Store,
	keys *service.APIKeyService,
	sessions *service.SessionService,
	sched *scheduler.Scheduler,
	notifier *notify.Router,
	registry *prometheus.Registry,
	bootstrapKey string,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:          cfg,
		store:        st,
		keys:         keys,
		sessions:     sessions,
		sched:        sched,
		notifier:     notifier,
		registry:     registry,
		logger:       logger,
		bootstrapKey: bootstrapKey,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	if s.cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimit))
	}

	// chi's plain-text defaults would break the error envelope contract.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeErrorEnvelope(w, apperr.New(apperr.NotFound, "no such route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeErrorEnvelope(w, apperr.Newf(apperr.BadRequest, "method %s not allowed for this route", req.Method))
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.registry != nil {
		r.Handle("/metrics", metrics.Handler(s.registry))
	}

	authHandler := handler.NewAuthHandler(s.keys, s.sessions, s.bootstrapKey, s.logger)
	keyHandler := handler.NewKeyHandler(s.keys, s.store, s.logger)
	notifHandler := handler.NewNotificationHandler(s.notifier, s.logger)

	r.Route("/api/v1", func(r chi.Router) {

		// Login is the unauthenticated entry point; throttle it per
		// presented credential on top of the per-IP limit.
		r.Group(func(r chi.Router) {
			if s.cfg.LoginRateLimit > 0 {
				r.Use(middleware.RateLimitByHeader("X-API-Key", s.cfg.LoginRateLimit))
			}
			r.Post("/auth/session", authHandler.Login)
		})
		r.Post("/auth/refresh", authHandler.Refresh)

		// Key management is bootstrap-token territory.
		r.Route("/keys", func(r chi.Router) {
			r.Use(middleware.Authenticate(s.keys, s.sessions, s.logger))
			r.Use(middleware.RequireScope(service.ScopeManageKeys, s.logger))

			r.Get("/", keyHandler.List)
			r.Post("/", keyHandler.Create)
			r.Delete("/", keyHandler.Revoke)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Use(middleware.Authenticate(s.keys, s.sessions, s.logger))

			r.Get("/codes", notifHandler.ListCodes)
			r.Get("/codes/{code}", notifHandler.GetCode)
			r.Get("/subscriptions", notifHandler.ListSubscriptions)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(notify.ScopeManage, s.logger))

				r.Post("/codes", notifHandler.RegisterCode)
				r.Delete("/codes/{code}", notifHandler.UnregisterCode)
				r.Post("/subscriptions", notifHandler.Subscribe)
				r.Delete("/subscriptions", notifHandler.Unsubscribe)
				r.Post("/dispatch", notifHandler.Dispatch)
			})
		})
	})

	s.router = r
}

// writeErrorEnvelope renders err in the taxonomy envelope. Used for the
// router-level fallbacks that bypass the handler helpers.
func writeErrorEnvelope(w http.ResponseWriter, err error) {
	status, body := apperr.Response(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleHealthz is a liveness probe: 200 while the process runs.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports 200 when the store answers a ping and the scheduler
// registry is consistent, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}

	if s.sched != nil {
		if err := s.sched.Reconcile(); err != nil {
			checks["scheduler"] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks["scheduler"] = "ok"
		}
		checks["jobs"] = s.sched.Snapshot()
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleOpenAPI serves the generated API document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openapi.Document()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the server and blocks until SIGINT or SIGTERM, then
// drains in-flight requests within the shutdown timeout.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.sched != nil {
		if err := s.sched.Stop(shutdownCtx); err != nil {
			s.logger.Error("scheduler stop", "error", err)
		}
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
