// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → stores (sqlite | dynamodb | memory)
//	              → auth.TokenService, auth.GitHubProvider, github.Client
//	              → services (auth, account, sync, repos)
//	              → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in
// New, rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/config"
	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/handler"
	"github.com/sakif/repo-insights/internal/middleware"
	"github.com/sakif/repo-insights/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection. Start closes it after the HTTP
// server has drained, so no in-flight request loses its database.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	stores *stores
	tokens *auth.TokenService
}

// New creates a Server from cfg.
//
// Each layer only receives what it needs:
// - Services get repository interfaces (not the concrete driver)
// - Handlers get services (not repositories)
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s, err := newWithStores(cfg, logger, st, github.NewClient(logger,
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithTimeout(cfg.GitHub.Timeout),
	))
	if err != nil {
		st.close()
		return nil, err
	}
	return s, nil
}

// newWithStores wires everything above the storage layer. Tests call it
// with the memory store and a fake GitHub.
func newWithStores(cfg *config.Config, logger *slog.Logger, st *stores, gh service.GitHub) (*Server, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.JWT.Secret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		stores: st,
		tokens: tokens,
	}
	s.setupRoutes(gh)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                               → liveness + store ping
//	GET    /auth/github                           → redirect to GitHub        [rate limited]
//	GET    /auth/github/callback                  → finish OAuth              [rate limited]
//	POST   /auth/refresh                          → rotate tokens (refresh)   [rate limited]
//	POST   /auth/logout                           → clear refresh cookie      [rate limited]
//	GET    /auth/me                               → token claims (access)     [rate limited]
//	GET    /user/me                               → GitHub profile (access)
//	PATCH  /user/steps                            → finish onboarding (access)
//	DELETE /user/me                               → delete account (access)
//	GET    /repos/github                          → selectable repos (access)
//	GET    /repos                                 → synced selections (access)
//	POST   /repos/select                          → add selections (access)
//	GET    /repos/{repoId}                        → details (access + ownership)
//	DELETE /repos/{repoId}                        → remove selection (access + ownership)
//	GET    /repos/{repoId}/commits                → commit page
//	GET    /repos/{repoId}/commits/metadata       → authors and branches
//	GET    /repos/{repoId}/issues                 → issue page
//	GET    /repos/{repoId}/issues/metadata        → issue authors
//	GET    /repos/{repoId}/pull-requests          → pull request page
//	GET    /repos/{repoId}/pull-requests/metadata → pull request authors
//
// MIDDLEWARE ORDER MATTERS:
// 1. RealIP: client IP from proxy headers, used by logging and rate limiting
// 2. RequestLogger: request id + request-scoped logger, one line per request
// 3. Recover: panics become a JSON 500 (logged by 2 with the request id)
// 4. CORS: credentialed requests from FRONTEND_URL only
func (s *Server) setupRoutes(gh service.GitHub) {
	cfg := s.config

	refreshCookie := auth.NewCookiePolicy(auth.RefreshCookieName, cfg.CookieDomain, cfg.Production())
	stateCookie := auth.NewCookiePolicy(auth.StateCookieName, cfg.CookieDomain, cfg.Production())
	provider := auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL, cfg.GitHub.APIURL, cfg.GitHub.Timeout)

	authService := service.NewAuthService(s.stores.identities, s.tokens, s.logger)
	accountService := service.NewAccountService(s.stores.identities, s.stores.selections, gh, s.logger)
	syncEngine := service.NewSyncEngine(s.stores.selections, gh, s.logger)
	repoService := service.NewRepoService(s.stores.identities, s.stores.selections, gh, syncEngine, s.logger)

	authHandler := handler.NewAuthHandler(provider, authService, refreshCookie, stateCookie, cfg.FrontendURL)
	userHandler := handler.NewUserHandler(accountService, refreshCookie)
	repoHandler := handler.NewRepoHandler(repoService)

	requireAccess := auth.RequireAccess(s.tokens, handler.WriteError)
	requireRefresh := auth.RequireRefresh(s.tokens, refreshCookie, handler.WriteError)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.Recover(handler.WriteError))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, r, apperror.NotFound("route", r.URL.Path))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, r, apperror.NotFound("route", r.Method+" "+r.URL.Path))
	})

	s.router.Get("/healthz", s.handleHealth)

	// === Auth Routes ===
	s.router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, handler.WriteError))

		r.Get("/github", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.With(requireRefresh).Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)
		r.With(requireAccess).Get("/me", authHandler.HandleMe)
	})

	// === Protected API Routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(requireAccess)

		r.Get("/user/me", userHandler.HandleProfile)
		r.Patch("/user/steps", userHandler.HandleCompleteOnboarding)
		r.Delete("/user/me", userHandler.HandleDeleteAccount)

		r.Get("/repos/github", repoHandler.HandleAvailable)
		r.Get("/repos", repoHandler.HandleSelected)
		r.Post("/repos/select", repoHandler.HandleSelect)
		r.Route("/repos/{repoId}", func(r chi.Router) {
			r.Get("/", repoHandler.HandleDetails)
			r.Delete("/", repoHandler.HandleRemove)
			r.Get("/commits", repoHandler.HandleCommits)
			r.Get("/commits/metadata", repoHandler.HandleCommitsMetadata)
			r.Get("/issues", repoHandler.HandleIssues)
			r.Get("/issues/metadata", repoHandler.HandleIssuesMetadata)
			r.Get("/pull-requests", repoHandler.HandlePullRequests)
			r.Get("/pull-requests/metadata", repoHandler.HandlePullRequestsMetadata)
		})
	})
}

// handleHealth reports liveness and, where the driver supports it, whether
// the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.stores.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.stores.ping(ctx); err != nil {
			middleware.LoggerFromContext(r.Context()).Error("health check failed", slog.Any("error", err))
			handler.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (SHUTDOWN_TIMEOUT)
// 3. Close the store
func (s *Server) Start() error {
	defer func() {
		if err := s.stores.close(); err != nil {
			s.logger.Error("closing store", slog.Any("error", err))
		}
	}()

	// WriteTimeout stays above the GitHub client timeout so a slow upstream
	// still gets its 502 written.
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.config.GitHub.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("env", s.config.AppEnv),
			slog.String("store", s.config.Store.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
