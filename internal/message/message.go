// Package message defines the JSON envelope exchanged between chat clients and
// the relay.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type discriminates envelope variants.
type Type string

const (
	// TypeID announces the identity the server assigned to a client.
	// It only travels server to client.
	TypeID Type = "id"
	// TypeMessage carries chat text.
	TypeMessage Type = "message"
)

var (
	// ErrMalformed wraps any payload that is not a JSON envelope.
	ErrMalformed = errors.New("message: malformed envelope")
	// ErrEmptyText is returned by CheckText when empty text is not relayed.
	ErrEmptyText = errors.New("message: empty text")
)

// Envelope is one JSON object per WebSocket text frame.
type Envelope struct {
	Type      Type   `json:"type"`
	Text      string `json:"text"`
	ClientKey string `json:"clientKey"`
	Date      int64  `json:"date"`
	// MsgID is a per-sender counter some clients attach; relayed untouched.
	MsgID *int64 `json:"msgId,omitempty"`
}

// Millis converts t to epoch milliseconds as carried in Date.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NewIdentity builds the greeting sent to a client right after it registers.
func NewIdentity(clientKey string, now time.Time) Envelope {
	return Envelope{
		Type:      TypeID,
		ClientKey: clientKey,
		Date:      Millis(now),
	}
}

// NewText builds a chat message envelope.
func NewText(text, clientKey string, now time.Time) Envelope {
	return Envelope{
		Type:      TypeMessage,
		Text:      text,
		ClientKey: clientKey,
		Date:      Millis(now),
	}
}

// Decode parses a single envelope. Unknown types decode successfully; callers
// decide what to do with them.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// Encode serialises env.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// ForRebroadcast returns a copy of env with the sender identity cleared and
// Date stamped from now when the sender left it unset.
func (env Envelope) ForRebroadcast(now time.Time) Envelope {
	out := env
	out.ClientKey = ""
	if out.Date == 0 {
		out.Date = Millis(now)
	}
	return out
}

// Known reports whether env carries a type this package understands.
func (env Envelope) Known() bool {
	switch env.Type {
	case TypeID, TypeMessage:
		return true
	default:
		return false
	}
}
