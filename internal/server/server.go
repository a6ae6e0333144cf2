// Package server implements the WebSocket relay: it upgrades HTTP requests,
// registers each connection with the registry and relays inbound messages to
// the other peers.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/wsrelay/internal/registry"
)

// Server owns the connection registry and the goroutines serving each peer.
type Server struct {
	cfg      Config
	registry *registry.Registry
	origins  originPolicy
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup

	rateLimited atomic.Uint64
}

// New creates a relay server from cfg. The configuration is sanitized first.
func New(cfg Config, logger zerolog.Logger) *Server {
	cfg = cfg.Sanitize()
	logger = logger.With().Str("component", "relay").Logger()

	s := &Server{
		cfg:      cfg,
		registry: registry.New(cfg.IDGenerator(), logger),
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:   logger,
		now:      time.Now,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	if cfg.Subprotocol != "" {
		s.upgrader.Subprotocols = []string{cfg.Subprotocol}
	}
	return s
}

// Registry exposes the connection registry for diagnostics.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// newHandler picks the state machine for the configured mode.
func (s *Server) newHandler(c *Connection) ConnHandler {
	p := peer{
		registry: s.registry,
		conn:     c,
		policy:   s.cfg.EmptyText,
		now:      s.now,
		logger:   s.logger.With().Str("remote_addr", c.Addr()).Logger(),
	}
	if s.cfg.Mode == ModeRaw {
		return &rawHandler{peer: p}
	}
	return &envelopeHandler{peer: p}
}

// serve registers an upgraded connection and starts its pumps.
func (s *Server) serve(conn *websocket.Conn, addr string) {
	c := NewConnection(conn, addr, s.cfg, &s.rateLimited, s.logger)
	h := s.newHandler(c)

	// Registration happens under s.mu so Shutdown cannot miss a connection
	// that registers while it is closing the registry.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		c.Close()
		c.closeSocket()
		return
	}
	if err := h.OnOpen(); err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("remote_addr", addr).Msg("failed to register connection")
		c.Close()
		c.closeSocket()
		return
	}
	s.wg.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(h)
	}()
}

// Shutdown stops accepting connections, closes every registered peer and
// waits for their goroutines, or until timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("initiating relay shutdown")

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	closed := s.registry.CloseAll()
	s.logger.Info().Int("clients", closed).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		s.logger.Warn().Msg("relay shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}

// statusUnavailable rejects upgrades while the relay is shutting down.
func statusUnavailable(w http.ResponseWriter) {
	http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
}
