// Package server implements the optional per-connection message limiter that
// keeps one chatty client from flooding every peer's queue.
package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// messageLimiter is a token bucket over one connection's inbound messages. It
// holds up to burst tokens and refills burst tokens per interval. Rejected
// messages are added to dropped, a counter shared by every connection of a
// server and reported on /stats.
//
// A nil *messageLimiter admits everything.
type messageLimiter struct {
	mu      sync.Mutex
	tokens  float64
	burst   float64
	perSec  float64
	last    time.Time
	dropped *atomic.Uint64
}

// newMessageLimiter returns nil, which disables limiting, unless cfg.Burst is
// positive.
func newMessageLimiter(cfg RateLimitConfig, dropped *atomic.Uint64) *messageLimiter {
	if cfg.Burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &messageLimiter{
		tokens:  float64(cfg.Burst),
		burst:   float64(cfg.Burst),
		perSec:  float64(cfg.Burst) / interval.Seconds(),
		last:    time.Now(),
		dropped: dropped,
	}
}

func (l *messageLimiter) admit() bool {
	return l.admitAt(time.Now())
}

func (l *messageLimiter) admitAt(now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.last) {
		l.tokens = min(l.burst, l.tokens+now.Sub(l.last).Seconds()*l.perSec)
		l.last = now
	}

	if l.tokens < 1 {
		if l.dropped != nil {
			l.dropped.Add(1)
		}
		return false
	}
	l.tokens--
	return true
}
