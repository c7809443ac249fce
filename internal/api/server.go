package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Journal lists recorded access attempts. *audit.SQLiteRepository
// satisfies it.
type Journal interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// TableSyncer refreshes the authorization table. *uplink.Syncer
// satisfies it.
type TableSyncer interface {
	Sync(ctx context.Context) error
}

// StatusFunc returns the controller snapshot served on /status.
type StatusFunc func() ControllerStatus

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Version  string
	DeviceID string

	Status  StatusFunc  // required
	Journal Journal     // optional
	Syncer  TableSyncer // optional
}

// Server is the local maintenance API.
//
// It is created with New(), which also creates the WebSocket hub so the hub
// can be registered as an attempt recorder before Start() is called.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	version   string
	deviceID  string
	status    StatusFunc
	journal   Journal
	syncer    TableSyncer
	hub       *Hub
	server    *http.Server
	listener  net.Listener
	cancel    context.CancelFunc
	startTime time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if deps.Config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		version:   deps.Version,
		deviceID:  deps.DeviceID,
		status:    deps.Status,
		journal:   deps.Journal,
		syncer:    deps.Syncer,
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
		startTime: time.Now(),
	}, nil
}

// Hub returns the live feed hub. It records attempts for WebSocket clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the hub and waits briefly for in-flight requests.
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
