// Package session tracks per-session token consumption with a bounded
// history window for drift detection.
package session

import "sync"

// historySize bounds the per-session sample window.
const historySize = 100

type counter struct {
	total   int
	samples []int
}

// TokenRepository keeps a running token total per session plus the last N
// samples. Appends are serialized per repository; concurrent requests to the
// same session record samples in completion order.
type TokenRepository struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// NewTokenRepository creates an empty repository.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{counters: make(map[string]*counter)}
}

// Add attributes tokens to a session and records the sample.
func (r *TokenRepository) Add(sessionID string, tokens int) {
	if sessionID == "" || tokens <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[sessionID]
	if !ok {
		c = &counter{}
		r.counters[sessionID] = c
	}
	c.total += tokens
	c.samples = append(c.samples, tokens)
	if len(c.samples) > historySize {
		c.samples = c.samples[len(c.samples)-historySize:]
	}
}

// Total returns the running token total for a session.
func (r *TokenRepository) Total(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[sessionID]; ok {
		return c.total
	}
	return 0
}

// Samples returns a copy of the bounded sample history for a session.
func (r *TokenRepository) Samples(sessionID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[sessionID]
	if !ok {
		return nil
	}
	out := make([]int, len(c.samples))
	copy(out, c.samples)
	return out
}
