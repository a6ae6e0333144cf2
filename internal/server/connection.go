// Package server manages individual WebSocket connections, handling read/write
// pumps, rate limiting, and lifecycle control for each peer.
package server

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/wsrelay/internal/registry"
)

// Connection is one accepted WebSocket. It implements registry.Sink: Send
// queues a frame for the write pump and never blocks on the network.
type Connection struct {
	conn           *websocket.Conn
	send           chan []byte
	addr           string
	mu             sync.Mutex
	closed         bool
	maxMessageSize int64
	writeTimeout   time.Duration
	pongTimeout    time.Duration
	pingInterval   time.Duration
	limiter        *messageLimiter
	rateLimit      RateLimitConfig
	logger         zerolog.Logger
}

var _ registry.Sink = (*Connection)(nil)

// NewConnection wraps conn using the limits and timeouts in cfg. Messages
// rejected by the rate limiter are counted in dropped, which may be nil. conn
// may be nil in tests that only exercise the send queue.
func NewConnection(conn *websocket.Conn, addr string, cfg Config, dropped *atomic.Uint64, logger zerolog.Logger) *Connection {
	cfg = cfg.Sanitize()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Connection{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		writeTimeout:   cfg.WriteTimeout,
		pongTimeout:    cfg.PongTimeout,
		pingInterval:   cfg.PingInterval,
		limiter:        newMessageLimiter(cfg.RateLimit, dropped),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With().Str("remote_addr", addr).Logger(),
	}
}

// Addr returns the peer's remote address.
func (c *Connection) Addr() string {
	return c.addr
}

// GetSendChan returns the outbound queue for reading queued frames.
func (c *Connection) GetSendChan() <-chan []byte {
	return c.send
}

// Send queues payload for delivery.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close marks the connection closed and closes the send queue, which makes
// the write pump send a close frame and release the socket. Safe to call
// more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// bindClientID tags subsequent log lines with id. It must run before the pumps start.
func (c *Connection) bindClientID(id registry.ClientID) {
	c.logger = c.logger.With().Str("client_id", string(id)).Logger()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Connection) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (c *Connection) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("max_bytes", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

// checkRateLimit reports whether the next inbound message may be processed.
// It always does when rate limiting is disabled.
func (c *Connection) checkRateLimit() bool {
	if !c.limiter.admit() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// readPump delivers inbound text frames to h until the socket fails or is
// closed. Each message is fully handled before the next is read, which keeps
// delivery FIFO per sender.
func (c *Connection) readPump(h ConnHandler) {
	var reason error
	defer func() {
		h.OnClose(reason)
		c.Close()
		c.closeSocket()
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			reason = err
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Debug().Int("frame_type", messageType).Msg("ignoring non-text frame")
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		h.OnMessage(payload)
	}
}

// writePump drains the send queue to the socket, one frame per message, and
// keeps the connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Connection) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-c.send:
		if !ok {
			return c.writeCloseMessage()
		}
		return c.writeTextMessage(payload)
	case <-ticker.C:
		return c.writePing()
	}
}

func (c *Connection) writeCloseMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("error writing close message")
		}
	}
	return false
}

func (c *Connection) writeTextMessage(payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// writePing sends a ping message to keep the connection alive
func (c *Connection) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}

// closeSocket closes the WebSocket connection, ignoring the errors expected
// when both pumps race to close it.
func (c *Connection) closeSocket() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error closing connection")
	}
}
