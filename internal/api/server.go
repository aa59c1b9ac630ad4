package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-shims/internal/connector"
	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-shims/internal/shim"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// MessageInjector runs a message through the shim pipeline for one device.
// Implemented by shim.Worker.
type MessageInjector interface {
	Inject(ctx context.Context, dev *device.Device, msg shim.Message) shim.Result
}

// Subscriptions exposes the connector's message types.
type Subscriptions interface {
	MatchList(messageType string) []string
	AddMessageType(mt connector.MessageType) error
	Stats() []connector.Stats
}

// BrokerStatus reports the MQTT connection state.
type BrokerStatus interface {
	IsConnected() bool
}

// MirrorStats reports time-series mirroring counters.
type MirrorStats interface {
	WriteStats() influxdb.WriteStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry
	History  device.StateHistoryRepository // optional

	Commander *shim.Commander
	Injector  MessageInjector
	Connector Subscriptions
	Triggers  *trigger.Registry
	Broker    BrokerStatus // optional
	Mirror    MirrorStats  // optional

	TemplateDirs []string
	DecoderDirs  []string

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the shims service.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *device.Registry
	history   device.StateHistoryRepository
	commander *shim.Commander
	injector  MessageInjector
	subs      Subscriptions
	triggers  *trigger.Registry
	broker    BrokerStatus
	mirror    MirrorStats

	templateDirs []string
	decoderDirs  []string

	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Dependencies; Logger, Registry and Triggers are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Triggers == nil {
		return nil, fmt.Errorf("trigger registry is required")
	}

	return &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		registry:     deps.Registry,
		history:      deps.History,
		commander:    deps.Commander,
		injector:     deps.Injector,
		subs:         deps.Connector,
		triggers:     deps.Triggers,
		broker:       deps.Broker,
		mirror:       deps.Mirror,
		templateDirs: deps.TemplateDirs,
		decoderDirs:  deps.DecoderDirs,
		version:      deps.Version,
		startTime:    time.Now(),
		hub:          deps.ExternalHub,
	}, nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected) and launches the
// HTTP listener in a background goroutine. Stop it with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: Reserved for listener setup failures
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

func (s *Server) authEnabled() bool {
	return s.cfg.Auth.JWTSecret != ""
}
