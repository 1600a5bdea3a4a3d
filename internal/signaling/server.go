package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/OmRatnaparkhe/WeMeet/internal/config"
	"github.com/OmRatnaparkhe/WeMeet/internal/metrics"
	"github.com/OmRatnaparkhe/WeMeet/internal/origin"
	"github.com/OmRatnaparkhe/WeMeet/internal/room"
)

// Config wires the relay's limits and collaborators. Zero values fall back to
// the config package defaults.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Rooms is the membership registry. A fresh one is created when nil.
	Rooms *room.Registry[Peer]

	// Origins is applied to WebSocket upgrades. The zero Policy allows
	// same-host browsers and non-browser clients.
	Origins origin.Policy

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueBytes       int
	InboundQueueSize     int
}

// ConfigFrom maps process configuration onto the relay.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Origins:              origin.NewPolicy(cfg.AllowedOrigins),
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      int64(cfg.MaxSignalingMessageBytes),
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueBytes:       cfg.SignalingSendQueueBytes,
	}
}

// Server accepts signaling WebSocket connections and relays their messages.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	rooms   *room.Registry[Peer]
	hub     *Hub

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Rooms == nil {
		cfg.Rooms = room.NewRegistry[Peer]()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultSignalingWSPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if cfg.SendQueueBytes <= 0 {
		cfg.SendQueueBytes = config.DefaultSignalingSendQueueBytes
	}

	cfg.Rooms.OnChange(cfg.Metrics.SetRoomStats)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		rooms:   cfg.Rooms,
		hub:     NewHub(NewRouter(cfg.Rooms, cfg.Metrics, cfg.Logger), cfg.InboundQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: cfg.Origins.CheckRequest,
	}
	return s
}

// RegisterRoutes mounts the upgrade endpoint at / and /ws.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/", s.ServeHTTP)
	r.Get("/ws", s.ServeHTTP)
}

func (s *Server) Rooms() *room.Registry[Peer] { return s.rooms }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.log.Debug("ws_upgrade_failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := newConn(ws, s.cfg.SendQueueBytes, s.log)
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
		return
	}
	defer s.untrack(c)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	c.log.Info("ws_connected")

	go c.writePump()
	go c.pingLoop(s.cfg.PingInterval)

	err = s.readLoop(c)

	// Evict before the socket goes away so a reconnect under the same
	// identifier cannot be overtaken by a stale eviction.
	if derr := s.hub.Disconnect(s.ctx, c); derr != nil && !errors.Is(derr, ErrDispatcherClosed) {
		c.log.Warn("ws_evict_failed", "err", derr)
	}
	c.Close()
	c.log.Info("ws_disconnected", "reason", disconnectReason(err))
}

func (s *Server) readLoop(c *Conn) error {
	ws := c.ws
	idle := s.cfg.IdleTimeout
	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxMessagesPerSecond), s.cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))

		if msgType != websocket.TextMessage {
			s.metrics.Drop(metrics.DropReasonBinaryFrame)
			continue
		}
		// Drop rather than close: the protocol has no error frame, and
		// reading first keeps the TCP receive buffer drained.
		if !limiter.Allow() {
			s.metrics.Drop(metrics.DropReasonRateLimited)
			continue
		}
		if err := s.hub.Submit(s.ctx, c, data); err != nil {
			s.metrics.Drop(metrics.DropReasonDispatcherClosed)
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return err
		}
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Close disconnects every client and stops the dispatcher. Hijacked
// WebSocket connections are not covered by http.Server.Shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}
	s.wg.Wait()
	s.cancel()
	s.hub.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func disconnectReason(err error) string {
	var closeErr *websocket.CloseError
	switch {
	case err == nil:
		return "closed"
	case errors.As(err, &closeErr):
		return "peer_closed"
	case isTimeout(err):
		return "idle_timeout"
	case errors.Is(err, websocket.ErrReadLimit):
		return "message_too_large"
	case errors.Is(err, ErrDispatcherClosed):
		return "shutdown"
	default:
		return "transport_error"
	}
}
