// Package module adapts the server's long-running parts to the modular
// application lifecycle: each type here is a modular.Module with Start and
// Stop.
package module

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
)

// HTTPServerConfig holds listener settings.
type HTTPServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// HTTPServer serves a handler and implements the modular.Module interfaces.
type HTTPServer struct {
	name    string
	cfg     HTTPServerConfig
	handler http.Handler
	server  *http.Server
	logger  modular.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewHTTPServer creates an HTTP server module.
func NewHTTPServer(name string, handler http.Handler, cfg HTTPServerConfig) *HTTPServer {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &HTTPServer{name: name, cfg: cfg, handler: handler, logger: &noopLogger{}}
}

// Name returns the unique identifier for this module
func (s *HTTPServer) Name() string {
	return s.name
}

// Init initializes the module with the application context
func (s *HTTPServer) Init(app modular.Application) error {
	s.logger = app.Logger()
	return nil
}

// Addr returns the bound listener address once started.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and serves in the background. A bind failure is
// returned rather than logged.
func (s *HTTPServer) Start(_ context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("no handler configured for HTTP server %s", s.name)
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}

	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "address", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the server within the shutdown timeout.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// ProvidesServices returns a list of services provided by this module
func (s *HTTPServer) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        s.name,
			Description: "HTTP Server",
			Instance:    s,
		},
	}
}

// RequiresServices returns a list of services required by this module
func (s *HTTPServer) RequiresServices() []modular.ServiceDependency {
	return nil
}

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...any) {}
func (l *noopLogger) Info(msg string, args ...any)  {}
func (l *noopLogger) Warn(msg string, args ...any)  {}
func (l *noopLogger) Error(msg string, args ...any) {}
