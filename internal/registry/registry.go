// Package registry tracks the live connections of the relay, keyed by the
// ClientID handed out when each one registers.
//
// All mutation and iteration goes through Registry methods. Broadcasts take a
// snapshot of the sinks under the read lock and deliver outside it, so a peer
// that is removed while a broadcast is in flight may still receive, or miss,
// that one message.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// maxIDAttempts bounds the retries when the generator returns an ID that is
// already registered.
const maxIDAttempts = 8

var (
	// ErrNilSink is returned when Register is called without a sink.
	ErrNilSink = errors.New("registry: nil sink")
	// ErrIDCollision is returned when no unused ID was produced within maxIDAttempts.
	ErrIDCollision = errors.New("registry: could not allocate unique client id")
)

// Sink is the outbound side of a connection.
//
// Send must not block on network I/O; a non-nil error means the peer is
// presumed dead. Close must be idempotent.
type Sink interface {
	Send(payload []byte) error
	Close()
}

// Registry is a concurrency-safe mapping from ClientID to Sink.
type Registry struct {
	mu     sync.RWMutex
	sinks  map[ClientID]Sink
	ids    IDGenerator
	logger zerolog.Logger
}

type entry struct {
	id   ClientID
	sink Sink
}

// New creates an empty Registry that draws IDs from ids. A nil generator
// defaults to UUIDGenerator.
func New(ids IDGenerator, logger zerolog.Logger) *Registry {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Registry{
		sinks:  make(map[ClientID]Sink),
		ids:    ids,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Register assigns a fresh ClientID to sink and inserts it.
//
// When greeting is non-nil, the payload it builds is delivered to sink before
// the entry becomes visible to broadcasts, so the greeting is always the first
// frame the peer receives. A failed greeting aborts the registration.
func (r *Registry) Register(sink Sink, greeting func(ClientID) ([]byte, error)) (ClientID, error) {
	if sink == nil {
		return "", ErrNilSink
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.allocateLocked()
	if err != nil {
		return "", err
	}

	if greeting != nil {
		payload, err := greeting(id)
		if err != nil {
			return "", fmt.Errorf("registry: build greeting for %s: %w", id, err)
		}
		if err := sink.Send(payload); err != nil {
			return "", fmt.Errorf("registry: greeting %s: %w", id, err)
		}
	}

	r.sinks[id] = sink
	r.logger.Info().Str("client_id", string(id)).Int("clients", len(r.sinks)).Msg("client registered")
	return id, nil
}

func (r *Registry) allocateLocked() (ClientID, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := r.ids.Next()
		if _, taken := r.sinks[id]; !taken {
			return id, nil
		}
		r.logger.Warn().Str("client_id", string(id)).Msg("generated id already in use, retrying")
	}
	return "", ErrIDCollision
}

// Unregister removes id and closes its sink. It reports whether an entry was
// removed; an unknown id is a no-op.
func (r *Registry) Unregister(id ClientID) bool {
	r.mu.Lock()
	sink, ok := r.sinks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sinks, id)
	count := len(r.sinks)
	r.mu.Unlock()

	sink.Close()
	r.logger.Info().Str("client_id", string(id)).Int("clients", count).Msg("client unregistered")
	return true
}

// unregisterSink removes id only while it still maps to sink.
func (r *Registry) unregisterSink(id ClientID, sink Sink) bool {
	r.mu.Lock()
	current, ok := r.sinks[id]
	if !ok || current != sink {
		r.mu.Unlock()
		return false
	}
	delete(r.sinks, id)
	r.mu.Unlock()

	sink.Close()
	return true
}

// BroadcastExcept delivers payload to every registered sink except sender and
// returns the number of successful deliveries. Peers whose send fails are
// unregistered; the remaining peers are still served.
func (r *Registry) BroadcastExcept(sender ClientID, payload []byte) int {
	return r.broadcast(payload, func(id ClientID) bool { return id != sender })
}

// BroadcastAll delivers payload to every registered sink, sender included.
func (r *Registry) BroadcastAll(payload []byte) int {
	return r.broadcast(payload, func(ClientID) bool { return true })
}

func (r *Registry) broadcast(payload []byte, include func(ClientID) bool) int {
	targets := r.snapshot()

	delivered := 0
	var failed []entry
	for _, e := range targets {
		if !include(e.id) {
			continue
		}
		if err := e.sink.Send(payload); err != nil {
			r.logger.Warn().Err(err).Str("client_id", string(e.id)).Msg("send failed, peer presumed dead")
			failed = append(failed, e)
			continue
		}
		delivered++
	}

	for _, e := range failed {
		if r.unregisterSink(e.id, e.sink) {
			r.logger.Info().Str("client_id", string(e.id)).Msg("client removed after failed send")
		}
	}

	r.logger.Debug().Int("delivered", delivered).Int("failed", len(failed)).Msg("broadcast complete")
	return delivered
}

func (r *Registry) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entry, 0, len(r.sinks))
	for id, sink := range r.sinks {
		out = append(out, entry{id: id, sink: sink})
	}
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// IDs returns the currently registered ClientIDs in no particular order.
func (r *Registry) IDs() []ClientID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ClientID, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll removes every entry, closes each sink and returns how many were closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sinks := make([]Sink, 0, len(r.sinks))
	for id, sink := range r.sinks {
		sinks = append(sinks, sink)
		delete(r.sinks, id)
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
	}
	r.logger.Info().Int("closed", len(sinks)).Msg("closed all clients")
	return len(sinks)
}
