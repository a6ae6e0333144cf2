package message

import (
	"fmt"
	"strings"
)

// EmptyTextPolicy controls whether messages without text are relayed.
type EmptyTextPolicy string

const (
	// EmptyTextRelay relays empty messages like any other.
	EmptyTextRelay EmptyTextPolicy = "relay"
	// EmptyTextDrop discards messages whose text is empty or only whitespace.
	EmptyTextDrop EmptyTextPolicy = "drop"
)

// ParseEmptyTextPolicy accepts "relay" or "drop", case-insensitively.
func ParseEmptyTextPolicy(s string) (EmptyTextPolicy, error) {
	switch p := EmptyTextPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case EmptyTextRelay, EmptyTextDrop:
		return p, nil
	default:
		return "", fmt.Errorf("message: unknown empty text policy %q", s)
	}
}

// CheckText returns ErrEmptyText when the policy forbids relaying text.
func (p EmptyTextPolicy) CheckText(text string) error {
	if p == EmptyTextDrop && strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}
