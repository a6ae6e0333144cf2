package server

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard allows any origin", []string{"*"}, "http://evil.example", true},
		{"wildcard allows missing origin", []string{"*"}, "", true},
		{"listed origin", []string{"http://localhost:3001"}, "http://localhost:3001", true},
		{"case and path are normalized", []string{"HTTP://LocalHost:3001/"}, "http://localhost:3001/chat", true},
		{"unlisted origin", []string{"http://localhost:3001"}, "http://localhost:9999", false},
		{"missing origin without wildcard", []string{"http://localhost:3001"}, "", false},
		{"malformed origin", []string{"http://localhost:3001"}, "not a url", false},
		{"invalid config entries ignored", []string{"garbage", " "}, "http://localhost:3001", false},
		{"empty list denies", nil, "http://localhost:3001", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.allowed, zerolog.Nop())

			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, policy.checkOrigin(req))
		})
	}
}
