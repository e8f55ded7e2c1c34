// Package server wires storage, handlers and middleware into the HTTP
// server of record.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/woodtime/internal/server/handlers"
	"github.com/iudanet/woodtime/internal/server/middleware"
	"github.com/iudanet/woodtime/internal/server/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// Options are the settings the server needs beyond storage
type Options struct {
	Version       string
	JWT           handlers.JWTConfig
	AuthRateLimit int // запросов в минуту на IP
}

// Server is the HTTP server of record
type Server struct {
	logger  *slog.Logger
	store   *sqlite.Storage
	hub     *handlers.StreamHub
	limiter *middleware.RateLimiter
	handler http.Handler
}

// New собирает маршруты сервера. Close освобождает hub и limiter,
// хранилище закрывает вызывающий
func New(logger *slog.Logger, store *sqlite.Storage, opts Options) *Server {
	s := &Server{
		logger:  logger,
		store:   store,
		hub:     handlers.NewStreamHub(logger),
		limiter: middleware.NewRateLimiter(opts.AuthRateLimit, time.Minute, logger),
	}

	authHandler := handlers.NewAuthHandler(logger, store, s.hub, opts.JWT)
	healthHandler := handlers.NewHealthHandler(logger, store, opts.Version)
	graphqlHandler := handlers.NewGraphQLHandler(logger, store, s.hub)
	requireAuth := middleware.AuthMiddleware(logger, opts.JWT)

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/auth/register", s.limiter.Middleware(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/v1/auth/login", s.limiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.Handle("POST /graphql", requireAuth(graphqlHandler))
	mux.Handle("GET /graphql/stream", requireAuth(s.hub))

	// recovery внутри logging, чтобы паника попала в лог со статусом 500
	s.handler = middleware.LoggingMiddleware(logger, "/api/v1/health")(
		middleware.RecoveryMiddleware(logger)(mux),
	)
	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the change notification hub
func (s *Server) Hub() *handlers.StreamHub {
	return s.hub
}

// Close disconnects stream subscribers and stops background work
func (s *Server) Close() {
	s.hub.Close()
	s.limiter.Stop()
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")

		// Shutdown не ждет hijacked соединения, их закрывает hub
		s.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
