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

	"github.com/spigotd/spigot/internal/auth"
	"github.com/spigotd/spigot/internal/handler"
	"github.com/spigotd/spigot/internal/relay"
	"github.com/spigotd/spigot/internal/server/middleware"
	"github.com/spigotd/spigot/internal/store"
	"github.com/spigotd/spigot/internal/usage"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	AuthRateLimit   int // requests per minute per IP on credential endpoints
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		AuthRateLimit:   20,
	}
}

// Deps are the wired components the server routes requests to.
type Deps struct {
	Store     *store.Store
	Authority *auth.Authority
	Refresher *auth.Refresher
	Gate      *auth.Gate
	Relay     *relay.Relay
	Ledger    *usage.Ledger
}

// Server is the top-level HTTP server for Spigot. It owns the chi router and
// exposes two surfaces: the management API under /api/v1 and the
// OpenAI-compatible inference API under /v1.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(s.deps.Store, s.deps.Authority, s.deps.Refresher, s.logger)
	userHandler := handler.NewUserHandler(s.deps.Store, s.logger)
	keyHandler := handler.NewKeyHandler(s.deps.Store, s.logger)
	usageHandler := handler.NewUsageHandler(s.deps.Ledger)
	sessionHandler := handler.NewSessionHandler(s.deps.Store)
	chatHandler := handler.NewChatHandler(s.deps.Relay, s.logger)

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- Management API ---
	// Compression stays off the /v1 surface; gzip buffering would stall
	// server-sent event delivery.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))

		// Credential endpoints are unauthenticated and rate-limited so
		// password and refresh-token guessing stays expensive.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.AuthRateLimit))
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Post("/auth/logout", authHandler.Logout)
		})

		// Everything else requires a resolved principal.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Gate))

			r.Get("/auth/me", authHandler.Me)

			// API key management
			r.Get("/keys", keyHandler.ListKeys)
			r.Post("/keys", keyHandler.CreateKey)
			r.Delete("/keys/{keyId}", keyHandler.RevokeKey)

			// Per-user usage reporting
			r.Get("/usage/overview", usageHandler.Overview)
			r.Get("/usage/models", usageHandler.Models)
			r.Get("/usage/logs", usageHandler.Logs)

			// Stored conversations
			r.Get("/sessions", sessionHandler.ListSessions)
			r.Post("/sessions", sessionHandler.CreateSession)
			r.Get("/sessions/{sessionId}", sessionHandler.GetSession)
			r.Delete("/sessions/{sessionId}", sessionHandler.DeleteSession)
			r.Post("/sessions/{sessionId}/messages", sessionHandler.AppendMessage)
			r.Put("/sessions/{sessionId}/messages/{messageId}", sessionHandler.UpdateMessage)
			r.Delete("/sessions/{sessionId}/messages/{messageId}", sessionHandler.DeleteMessage)

			// Admin surface
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/users", userHandler.ListUsers)
				r.Post("/users", userHandler.CreateUser)
				r.Get("/users/scopes", userHandler.ListScopes)
				r.Get("/users/{userId}", userHandler.GetUser)
				r.Put("/users/{userId}", userHandler.UpdateUser)
				r.Delete("/users/{userId}", userHandler.DeleteUser)

				r.Get("/admin/usage/overview", usageHandler.SystemOverview)
				r.Get("/admin/usage/models", usageHandler.SystemModels)
				r.Get("/admin/usage/logs", usageHandler.SystemLogs)
			})
		})
	})

	// --- OpenAI-compatible inference API ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.deps.Gate))

		r.Get("/models", chatHandler.ListModels)
		r.Post("/chat/completions", chatHandler.Completions)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is reachable,
// or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: streamed completions legitimately hold the
		// response open for minutes. The relay bounds stream duration itself.
		IdleTimeout: 120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.deps.Store.Close(); err != nil {
		s.logger.Warn("store close failed", "error", err)
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
