package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/wsrelay/internal/message"
	"github.com/Tyrowin/wsrelay/internal/registry"
)

// peer carries the registration shared by both relay modes.
type peer struct {
	registry *registry.Registry
	conn     *Connection
	policy   message.EmptyTextPolicy
	now      func() time.Time
	logger   zerolog.Logger
	id       registry.ClientID
}

func (p *peer) register(greeting func(registry.ClientID) ([]byte, error)) error {
	id, err := p.registry.Register(p.conn, greeting)
	if err != nil {
		return err
	}
	p.id = id
	p.conn.bindClientID(id)
	p.logger = p.logger.With().Str("client_id", string(id)).Logger()
	return nil
}

// OnClose releases the registry entry. A connection that never registered
// has nothing to release.
func (p *peer) OnClose(reason error) {
	if p.id == "" {
		return
	}
	if p.registry.Unregister(p.id) {
		p.logger.Debug().AnErr("reason", reason).Msg("connection closed")
	}
}

// envelopeHandler relays JSON envelopes to every peer except the sender.
type envelopeHandler struct {
	peer
}

// OnOpen registers the connection and queues its identity announcement.
func (h *envelopeHandler) OnOpen() error {
	return h.register(func(id registry.ClientID) ([]byte, error) {
		return message.Encode(message.NewIdentity(string(id), h.now()))
	})
}

// OnMessage decodes an envelope and rebroadcasts chat text without the
// sender's identity. Malformed input is dropped and the connection stays open.
func (h *envelopeHandler) OnMessage(payload []byte) {
	env, err := message.Decode(payload)
	if err != nil {
		h.logger.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	switch {
	case !env.Known():
		h.logger.Debug().Str("type", string(env.Type)).Msg("ignoring envelope of unknown type")
	case env.Type == message.TypeID:
		h.logger.Debug().Msg("ignoring identity envelope sent by client")
	default:
		h.relayText(env)
	}
}

func (h *envelopeHandler) relayText(env message.Envelope) {
	if err := h.policy.CheckText(env.Text); err != nil {
		h.logger.Debug().Err(err).Msg("dropping message")
		return
	}

	// The registration, not the envelope, identifies the sender.
	if env.ClientKey != "" && env.ClientKey != string(h.id) {
		h.logger.Debug().Str("client_key", env.ClientKey).Msg("envelope client key differs from registered id")
	}

	out, err := message.Encode(env.ForRebroadcast(h.now()))
	if err != nil {
		h.logger.Error().Err(err).Msg("error encoding message for broadcast")
		return
	}

	delivered := h.registry.BroadcastExcept(h.id, out)
	h.logger.Debug().Int("delivered", delivered).Msg("message relayed")
}

// rawHandler relays opaque text frames to every peer, sender included.
type rawHandler struct {
	peer
}

// OnOpen registers the connection without announcing an identity.
func (h *rawHandler) OnOpen() error {
	return h.register(nil)
}

// OnMessage relays payload verbatim.
func (h *rawHandler) OnMessage(payload []byte) {
	if err := h.policy.CheckText(string(payload)); err != nil {
		h.logger.Debug().Err(err).Msg("dropping message")
		return
	}

	delivered := h.registry.BroadcastAll(payload)
	h.logger.Debug().Int("delivered", delivered).Msg("frame relayed")
}
