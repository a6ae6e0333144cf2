// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, relay statistics and the built-in test page.
package server

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

//go:embed static/index.html
var testPage []byte

// WebSocketHandler upgrades GET requests that offer the configured
// subprotocol and hands the connection to the relay.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.isClosing() {
		statusUnavailable(w)
		return
	}

	if s.cfg.Subprotocol != "" && !slices.Contains(websocket.Subprotocols(r), s.cfg.Subprotocol) {
		s.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Strs("offered", websocket.Subprotocols(r)).
			Msg("rejecting websocket handshake without required subprotocol")
		http.Error(w, fmt.Sprintf("Unsupported WebSocket subprotocol. Expected %q.", s.cfg.Subprotocol), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s.serve(conn, r.RemoteAddr)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "wsrelay is running!")
}

// Stats is the body served by StatsHandler.
type Stats struct {
	Clients     int    `json:"clients"`
	Mode        Mode   `json:"mode"`
	Proto       string `json:"subprotocol,omitempty"`
	RateLimited uint64 `json:"rateLimited"`
}

// StatsHandler reports the number of registered connections and how many
// inbound messages the rate limiter has discarded.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := Stats{
		Clients:     s.registry.Count(),
		Mode:        s.cfg.Mode,
		Proto:       s.cfg.Subprotocol,
		RateLimited: s.rateLimited.Load(),
	}
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn().Err(err).Msg("error writing stats response")
	}
}

// TestPageHandler serves a minimal chat page for manual testing.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(testPage); err != nil {
		s.logger.Warn().Err(err).Msg("error writing HTML response")
	}
}
