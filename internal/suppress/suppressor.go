// Package suppress implements the cool-down that stops the engine from
// re-emitting a rejected signal shape before its suppression expires.
package suppress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// DefaultTTL is the standard suppression window for a rejected signal.
const DefaultTTL = 15 * time.Minute

// Key identifies a signal shape. Two signals with the same strategy,
// regime, and side share a suppression window.
type Key struct {
	Strategy string       `json:"strategy"`
	Regime   types.Regime `json:"regime"`
	Side     types.Side   `json:"side"`
}

// Entry is one active suppression.
type Entry struct {
	Key         Key       `json:"key"`
	Until       time.Time `json:"until"`
	RejectCount int       `json:"rejectCount"`
}

// Suppressor tracks rejected signal shapes and answers whether a new
// signal of the same shape may be emitted yet.
type Suppressor struct {
	logger *zap.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewSuppressor creates a suppressor with the given TTL. A zero ttl
// falls back to DefaultTTL.
func NewSuppressor(logger *zap.Logger, ttl time.Duration) *Suppressor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Suppressor{
		logger:  logger.Named("suppress"),
		ttl:     ttl,
		entries: make(map[Key]Entry),
	}
}

// ShouldEmit reports whether a signal with this shape may be emitted at
// now. A shape stays suppressed through the exact expiry instant and
// becomes emittable strictly after it.
func (s *Suppressor) ShouldEmit(key Key, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return true
	}
	return now.After(e.Until)
}

// RecordReject starts or extends the suppression window for the shape.
func (s *Suppressor) RecordReject(key Key, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	e.Key = key
	e.Until = now.Add(s.ttl)
	e.RejectCount++
	s.entries[key] = e
	s.logger.Debug("Suppressing signal shape",
		zap.String("strategy", key.Strategy),
		zap.String("regime", string(key.Regime)),
		zap.String("side", string(key.Side)),
		zap.Time("until", e.Until),
		zap.Int("rejectCount", e.RejectCount))
}

// RecordAccept clears any suppression for the shape. An accepted order
// proves the shape is viable again.
func (s *Suppressor) RecordAccept(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Sweep drops entries whose window has expired and returns how many
// were removed.
func (s *Suppressor) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if now.After(e.Until) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Active returns a copy of the live suppressions.
func (s *Suppressor) Active() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}
