// Package api serves the read-only monitoring API of the CIFS server: health,
// Prometheus metrics and JSON views of names, sessions, shares and locks.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
)

// Server is the HTTP API server.
type Server struct {
	server       *http.Server
	config       Config
	jwtService   *JWTService
	shutdownOnce sync.Once
}

// NewServer builds the server. A configured JWT secret shorter than 32
// characters is rejected.
func NewServer(config Config, src Sources) (*Server, error) {
	config.ApplyDefaults()

	var jwtService *JWTService
	if config.AuthEnabled() {
		svc, err := NewJWTService(config.JWTSecret(), config.JWT.TokenDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
		jwtService = svc
	} else {
		logger.Warn("API authentication disabled; set a JWT secret to protect /api/v1",
			"env_var", EnvJWTSecret)
	}

	return &Server{
		server: &http.Server{
			Addr:         config.ListenAddress,
			Handler:      NewRouter(src, jwtService, config.RequestTimeout),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config:     config,
		jwtService: jwtService,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start listens on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.KeyAddress, ln.Addr().String(),
			"auth", s.jwtService != nil)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Only the first call has effect.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err)
			return
		}
		logger.Info("API server stopped gracefully")
	})
	return shutdownErr
}
