// ABOUTME: HTTP API server for login, session management, and admin inspection
// ABOUTME: chi router with per-IP rate limiting on the login endpoint

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/addyya/portalgate/internal/auth"
	"github.com/addyya/portalgate/internal/store"
)

// loginRatePerMinute caps login attempts per client IP at the transport
// layer, in front of the store-backed lockout policy.
const loginRatePerMinute = 10

// Config assembles a Server.
type Config struct {
	Addr        string
	Manager     *auth.Manager
	Store       store.Store
	AdminSecret string
}

// Server is the authentication API: the login/logout/verify endpoints the
// portal frontends call, the plain-HTML fallback form for constrained
// browsers, and JWT-protected admin listings.
type Server struct {
	addr     string
	manager  *auth.Manager
	store    store.Store
	verifier *auth.JWTVerifier
	logger   *slog.Logger

	now func() time.Time
}

// New creates an API server. AdminSecret may be empty, in which case the
// admin endpoints refuse every request.
func New(cfg Config) *Server {
	var verifier *auth.JWTVerifier
	if cfg.AdminSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.AdminSecret))
	}
	return &Server{
		addr:     cfg.Addr,
		manager:  cfg.Manager,
		store:    cfg.Store,
		verifier: verifier,
		logger:   slog.Default().With("component", "api"),
		now:      time.Now,
	}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(loginRateLimit()).Post("/login", s.handleLogin)
		r.Post("/verify", s.handleVerify)
		r.Post("/logout", s.handleLogout)
		r.Get("/fallback", s.handleFallbackForm)
		r.With(loginRateLimit()).Post("/fallback", s.handleFallbackSubmit)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/devices", s.handleListDevices)
		r.Get("/logs", s.handleListAttempts)
	})

	return r
}

// loginRateLimit rate limits by client IP in front of the lockout policy.
func loginRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		loginRatePerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}

// Run serves the API until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
