package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/moonshotdigital/moonshot/internal/handler"
	"github.com/moonshotdigital/moonshot/internal/metrics"
	"github.com/moonshotdigital/moonshot/internal/openapi"
	"github.com/moonshotdigital/moonshot/internal/server/middleware"
	"github.com/moonshotdigital/moonshot/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// means the frontend origin only.
	CORSOrigins []string
	MaxBodySize int64 // bytes
	// RateLimit is the per-IP request budget per minute for the login and
	// recovery endpoints. Zero disables limiting.
	RateLimit int
	// Version is reported in the OpenAPI document.
	Version string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            5174,
		ShutdownTimeout: 30 * time.Second,
		MaxBodySize:     64 * 1024,
		RateLimit:       20,
	}
}

// Pinger reports database reachability for the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server routes to. Store, Auth and Reset
// are required.
type Deps struct {
	Store    Pinger
	Settings handler.SettingsReader
	Auth     *service.AuthService
	Reset    *service.ResetService
	Mailer   handler.Mailer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	FrontendOrigin string
	SupportEmail   string
}

// Server is the HTTP front of the admin backend. It owns the chi router and
// the http.Server; the store is owned by the caller.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) > 0 {
		return s.cfg.CORSOrigins
	}
	if s.deps.FrontendOrigin != "" {
		return []string{s.deps.FrontendOrigin}
	}
	return []string{"*"}
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(s.deps.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	r.Use(chimw.Compress(5))

	// --- Operational endpoints ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)

	// --- Admin API ---
	admin := handler.NewAdminHandler(handler.AdminDeps{
		Auth:           s.deps.Auth,
		Reset:          s.deps.Reset,
		Settings:       s.deps.Settings,
		Mailer:         s.deps.Mailer,
		Metrics:        s.deps.Metrics,
		Logger:         s.logger,
		FrontendOrigin: s.deps.FrontendOrigin,
		SupportEmail:   s.deps.SupportEmail,
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/me", admin.Me)
		r.Post("/logout", admin.Logout)

		// Password guessing and mail flooding surfaces.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.RateLimit))
			r.Post("/login", admin.Login)
			r.Post("/password-reset/request", admin.RequestPasswordReset)
			r.Post("/password-reset/confirm", admin.ConfirmPasswordReset)
			r.Post("/access-recovery", admin.AccessRecovery)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.deps.Auth))
			r.Post("/password", admin.ChangePassword)
		})
	})

	s.router = r
}

// handleHealthz is a liveness check. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// handleReadyz is a readiness check. Returns 200 when the database answers
// a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"database": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		checks["database"] = "unavailable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	doc := openapi.GenerateAdminSpec(scheme+"://"+r.Host, s.cfg.Version)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc) //nolint:errcheck
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then drains in-flight requests within
// the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.Addr()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
