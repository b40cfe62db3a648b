// Package server hosts a MapStore as a map backend. SDK clients connect over
// a websocket at /ws, or over QUIC when a QUIC address is configured, and
// speak the envelope protocol; /healthz and a read-only /maps listing are
// plain HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/protocol"
	"github.com/placenote/placenote/internal/core/storage"
	"github.com/placenote/placenote/pkg/concurrent"
	"github.com/placenote/placenote/pkg/sequence"
)

// Server serves one MapStore to any number of clients.
type Server struct {
	store  storage.MapStore
	config Config
	logger log.Log

	httpServer *http.Server
	listener   net.Listener
	quic       *protocol.QUICListener
	// cancel ends QUIC sessions, which have no request context.
	cancel context.CancelFunc

	sessions     sync.Map // map[string]*ClientSession
	sessionCount atomic.Int64

	running atomic.Bool
	closed  atomic.Bool

	workerGroup sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// APIKey, when set, is required from every client.
	APIKey          string          `yaml:"api_key"`
	MaxClients      int             `yaml:"max_clients"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Protocol        protocol.Config `yaml:"protocol"`
	// QUICAddr enables the QUIC listener. Without a certificate pair a
	// self-signed certificate is used.
	QUICAddr    string `yaml:"quic_addr"`
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		MaxClients:      1_000,
		ShutdownTimeout: 10 * time.Second,
		Protocol:        protocol.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.Join(ErrInvalidConfig, errors.New("listen address is required"))
	}
	if c.MaxClients <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("max clients must be positive"))
	}
	if err := c.Protocol.Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.Join(ErrInvalidConfig, errors.New("tls cert and key must be set together"))
	}
	return nil
}

func NewServer(store storage.MapStore, config Config, logger log.Log) *Server {
	s := &Server{
		store:  store,
		config: config,
		logger: logger.With(log.String("component", "server")),
	}

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_clients", config.MaxClients),
		log.Bool("auth", config.APIKey != ""),
		log.String("quic_addr", config.QUICAddr))

	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	auth := NewAPIKeyAuth(s.config.APIKey, s.logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", auth.Wrap(http.HandlerFunc(s.handleWebSocket)))
	mux.Handle("GET /maps", auth.Wrap(http.HandlerFunc(s.handleListMaps)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}

	if s.config.QUICAddr != "" {
		if err = s.listenQUIC(); err != nil {
			_ = listener.Close()
			s.running.Store(false)
			s.logger.Error("Failed to create QUIC listener", log.Error(err))
			return errors.Join(ErrListenerFailed, err)
		}
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// QUICAddr is the bound QUIC address, or nil when QUIC is off.
func (s *Server) QUICAddr() net.Addr {
	if s.quic == nil {
		return nil
	}
	return s.quic.Addr()
}

// Logger is the logger the server was built with.
func (s *Server) Logger() log.Log {
	return s.logger
}

// Stop closes the listener and every client session.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	err := s.httpServer.Shutdown(ctx)
	if s.quic != nil {
		s.cancel()
		_ = s.quic.Close()
	}

	// hijacked websocket connections are not tracked by Shutdown
	var sessions []*ClientSession
	s.sessions.Range(func(_, value any) bool {
		sessions = append(sessions, value.(*ClientSession))
		return true
	})
	_ = concurrent.Each(sequence.From(sessions), 0, (*ClientSession).Close)

	s.workerGroup.Wait()
	s.logger.Info("Server stopped")
	return err
}

// Run starts the server and blocks until ctx is done, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Close stops the server if needed and closes the store.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.running.Load() {
		_ = s.Stop(context.Background())
	}
	return s.store.Close()
}

// Sessions is the number of connected clients.
func (s *Server) Sessions() int64 {
	return s.sessionCount.Load()
}
