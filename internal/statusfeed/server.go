package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/journal"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// StatusSource is the part of connection.Manager the feed reads.
type StatusSource interface {
	BrokerURL() string
	Snapshot() connection.Snapshot
}

// History supplies recent journal entries. *journal.Store satisfies it.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Deps holds the dependencies of a Server.
type Deps struct {
	Config  config.StatusFeedConfig
	Logger  *logging.Logger
	Source  StatusSource
	History History // optional
	Version string
}

// Server is the HTTP/WebSocket status feed.
type Server struct {
	cfg      config.StatusFeedConfig
	logger   *logging.Logger
	source   StatusSource
	history  History
	version  string
	hub      *Hub
	upgrader *websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
}

// New creates a Server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	logger := deps.Logger.Component("statusfeed")

	return &Server{
		cfg:      deps.Config,
		logger:   logger,
		source:   deps.Source,
		history:  deps.History,
		version:  deps.Version,
		hub:      NewHub(deps.Config.WebSocket, logger),
		upgrader: newUpgrader(deps.Config.CORS.AllowedOrigins),
	}, nil
}

// OnEvent implements connection.Observer by broadcasting ev to every client.
func (s *Server) OnEvent(ev connection.Event) {
	s.hub.Broadcast(WSMessage{
		Type:      WSTypeEvent,
		Timestamp: timestamp(),
		Payload:   eventView(ev),
	})
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("status feed already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("status feed listen: %w", err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status feed server error", "error", err)
		}
	}()

	s.logger.Info("status feed listening", "address", s.addr.String())
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close disconnects WebSocket clients and shuts the HTTP server down.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status feed: %w", err)
	}
	return nil
}

func (s *Server) status() StatusView {
	return statusView(s.source.BrokerURL(), s.source.Snapshot())
}

func (s *Server) snapshotMessage() []byte {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeSnapshot,
		Timestamp: timestamp(),
		Payload:   s.status(),
	})
	if err != nil {
		s.logger.Error("failed to marshal snapshot", "error", err)
		return []byte(`{"type":"error"}`)
	}
	return data
}
