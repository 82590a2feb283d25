package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/events/bus"
	"github.com/zeusync/blastcore/internal/core/explosion"
	"github.com/zeusync/blastcore/internal/core/observability/log"
)

// Worlds resolves explosion sessions by world name.
type Worlds interface {
	Get(world string) (*explosion.Session, bool)
	Names() []string
}

// Server exposes the explosion engines over HTTP and streams applied
// explosions to websocket clients.
type Server struct {
	worlds Worlds
	events bus.EventBus
	feed   *Feed

	httpServer *http.Server
	listener   net.Listener
	sub        bus.Subscription
	observer   *deliveryObserver

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log

	detonations atomic.Uint64
	rejected    atomic.Uint64

	workerGroup sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// Token guards the mutating endpoints and the feed. Empty disables auth.
	Token string `yaml:"token" json:"token"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`

	// Feed settings
	ClientBuffer int           `yaml:"client_buffer" json:"client_buffer"`
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxBodyBytes:    64 * 1024,
		ClientBuffer:    64,
		PingInterval:    30 * time.Second,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.Wrap(ErrInvalidConfig, "listen_addr is empty")
	case c.RequestTimeout <= 0:
		return errors.Wrapf(ErrInvalidConfig, "request_timeout must be positive, got %s", c.RequestTimeout)
	case c.MaxBodyBytes <= 0:
		return errors.Wrapf(ErrInvalidConfig, "max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	case c.ClientBuffer <= 0:
		return errors.Wrapf(ErrInvalidConfig, "client_buffer must be positive, got %d", c.ClientBuffer)
	case c.PingInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "ping_interval must be positive, got %s", c.PingInterval)
	}
	return nil
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Running     bool      `json:"running"`
	Worlds      []string  `json:"worlds"`
	Detonations uint64    `json:"detonations"`
	Rejected    uint64    `json:"rejected"`
	Feed        FeedStats `json:"feed"`
	// Events is collected only while the server is running.
	Events bus.EventBusMetrics `json:"events"`
}

// NewServer creates a new server. events may be nil, in which case the feed stays silent.
func NewServer(config Config, worlds Worlds, events bus.EventBus, logger log.Log) *Server {
	logger = log.OrNop(logger).With(log.String("component", "server"))

	server := &Server{
		worlds: worlds,
		events: events,
		config: config,
		logger: logger,
		feed:   NewFeed(config.ClientBuffer, config.PingInterval, logger),
	}

	server.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Bool("auth", config.Token != ""))

	return server
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}

	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("Starting server")

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Wrap(ErrListenerFailed, err.Error())
	}
	s.listener = listener

	if s.events != nil {
		sub, err := s.events.Subscribe(explosion.EventApplied, s.onApplied)
		if err != nil {
			_ = listener.Close()
			atomic.StoreInt32(&s.running, 0)
			return errors.Wrap(err, "subscribe to applied explosions")
		}
		s.sub = sub
		s.observer = &deliveryObserver{logger: s.logger, slow: slowDelivery}
		s.events.AddObserver(s.observer)
	}

	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
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

// Stop shuts the HTTP server down and disconnects feed clients.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	if s.sub != nil {
		_ = s.sub.Cancel()
	}
	if s.observer != nil {
		s.events.RemoveObserver(s.observer)
	}

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	s.feed.Close()
	err := s.httpServer.Shutdown(ctx)

	s.workerGroup.Wait()

	s.logger.Info("Server stopped")

	if err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	s.logger.Info("Closing server")

	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}

	s.logger.Info("Server closed")

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddr
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	st := Stats{
		Running:     atomic.LoadInt32(&s.running) == 1,
		Worlds:      s.worlds.Names(),
		Detonations: s.detonations.Load(),
		Rejected:    s.rejected.Load(),
		Feed:        s.feed.Stats(),
	}
	if s.events != nil {
		st.Events = s.events.GetMetrics()
	}
	return st
}

// onApplied runs on the world loop and must not block.
func (s *Server) onApplied(ev bus.Event) error {
	rep, ok := ev.Data().(explosion.Report)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", ev.Type(), ev.Data())
	}
	s.feed.Broadcast(rep)
	return nil
}

// slowDelivery is the handler time on the world loop worth a warning.
const slowDelivery = 5 * time.Millisecond

// deliveryObserver reports failing and slow event handlers. Handlers run on the
// world loop, so a slow one delays every world operation.
type deliveryObserver struct {
	logger log.Log
	slow   time.Duration
}

func (o *deliveryObserver) OnPublish(string, bus.Event) {}

func (o *deliveryObserver) OnDelivered(eventType string, handlers int, err error, took time.Duration) {
	if err != nil {
		o.logger.Warn("event handlers failed", log.String("event", eventType), log.Int("handlers", handlers), log.Error(err))
	}
	if took > o.slow {
		o.logger.Warn("slow event delivery", log.String("event", eventType), log.Int("handlers", handlers), log.Duration("took", took))
	}
}
