// ratelimit.go - Per-peer submission rate limiting.
//
// Token bucket per remote peer, applied to /submit. Proof verification is the
// most expensive thing the node does, so submission is the only endpoint a
// single peer can meaningfully overload.

package sim

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// PeerLimiter rate-limits submissions per peer identifier.
type PeerLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	maxTokens    int
	refillPeriod time.Duration
}

// NewPeerLimiter allows maxTokens burst per peer, refilling one token every
// refillPeriod.
func NewPeerLimiter(maxTokens int, refillPeriod time.Duration) *PeerLimiter {
	return &PeerLimiter{
		buckets:      make(map[string]*bucket),
		maxTokens:    maxTokens,
		refillPeriod: refillPeriod,
	}
}

// Allow consumes one token for peer, reporting whether the request may
// proceed.
func (l *PeerLimiter) Allow(peer string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[peer]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastRefill: now}
		l.buckets[peer] = b
	}
	refill := int(now.Sub(b.lastRefill) / l.refillPeriod)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the tokens currently available to peer.
func (l *PeerLimiter) Tokens(peer string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[peer]; ok {
		return b.tokens
	}
	return l.maxTokens
}
