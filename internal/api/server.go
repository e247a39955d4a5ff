// Package api provides the operator HTTP API of the homeapp node.
//
// It exposes the node status, the temperature sensor list, friendly-name
// editing, firmware update triggers and the Prometheus scrape endpoint.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/homeapp-node/internal/infrastructure/config"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/logging"
	"github.com/nerrad567/homeapp-node/internal/ota"
	"github.com/nerrad567/homeapp-node/internal/stats"
	"github.com/nerrad567/homeapp-node/internal/temperature"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Updater is the firmware update surface used by the API.
type Updater interface {
	Start(ctx context.Context, imageName string) error
	Status() ota.Status
	CancelRollback() error
}

// Sensors is the temperature sensor surface used by the API.
type Sensors interface {
	Sensors() []temperature.Sensor
	SetFriendlyName(ctx context.Context, key, name string) error
	SendAll()
}

// Statistics provides the current counter values.
type Statistics interface {
	Snapshot() stats.Snapshot
}

// Queue reports the event queue occupancy.
type Queue interface {
	Len() int
	Cap() int
	MaxDepth() int64
	Dropped() uint64
}

// Broker reports the message bus connection state.
type Broker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	OTA        Updater
	Sensors    Sensors // nil when temperature polling is disabled
	Statistics Statistics
	Queue      Queue
	Broker     Broker              // optional
	Gatherer   prometheus.Gatherer // optional, enables /metrics
	Device     string
	Version    string
}

// Server is the operator HTTP API server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	ota        Updater
	sensors    Sensors
	statistics Statistics
	queue      Queue
	broker     Broker
	gatherer   prometheus.Gatherer
	device     string
	version    string
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, updater, statistics, queue)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.OTA == nil {
		return nil, fmt.Errorf("ota updater is required")
	}
	if deps.Statistics == nil {
		return nil, fmt.Errorf("statistics are required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("event queue is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		ota:        deps.OTA,
		sensors:    deps.Sensors,
		statistics: deps.Statistics,
		queue:      deps.Queue,
		broker:     deps.Broker,
		gatherer:   deps.Gatherer,
		device:     deps.Device,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Start binds the listener and serves requests in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(_ context.Context) error {
	if s.server == nil {
		return fmt.Errorf("API server not started")
	}
	return nil
}
