// Package status provides the agent's local HTTP status endpoint.
//
// It reports liveness, the connection state and counters, and, when the
// journal is enabled, recent connection events:
//
//	GET /api/v1/health      component health (200 or 503)
//	GET /api/v1/connection  state, attempts, reconnects, publish counters
//	GET /api/v1/journal     recent journal events (?kind=&limit=&offset=)
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := status.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
	"github.com/nerrad567/iotcore-client/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// ConnectionStatus is the body of GET /api/v1/connection.
type ConnectionStatus struct {
	Device        string     `json:"device"`
	State         string     `json:"state"`
	Attempts      int64      `json:"attempts"`
	Reconnects    int64      `json:"reconnects"`
	Published     int64      `json:"published"`
	PublishFailed int64      `json:"publish_failed"`
	Received      int64      `json:"received"`
	ExpiresAt     *time.Time `json:"credential_expires_at,omitempty"`
}

// Source reports the current connection status. It is called from HTTP
// goroutines and must be safe for concurrent use.
type Source interface {
	ConnectionStatus() ConnectionStatus
}

// HealthChecker is implemented by components reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Logger is the logging surface used by the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config  config.StatusConfig
	Logger  Logger
	Source  Source
	Health  map[string]HealthChecker // optional
	Journal journal.Repository       // optional; /journal answers 404 without it
	Version string
}

// Server is the status HTTP server.
type Server struct {
	cfg     config.StatusConfig
	logger  Logger
	source  Source
	health  map[string]HealthChecker
	journal journal.Repository
	version string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a status server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		source:  deps.Source,
		health:  deps.Health,
		journal: deps.Journal,
		version: deps.Version,
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding errors (port in use) are returned synchronously.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("status server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding status server on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
