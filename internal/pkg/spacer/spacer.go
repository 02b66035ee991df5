package spacer

import (
	"context"
	"sync"
	"time"
)

// Spacer enforces a minimum gap between consecutive calls to the same
// external provider. It is spacing, not a token bucket: there is no burst
// credit, every call under a key is serialized against the key's last call
// time. Keys are independent; waiting on one vendor never delays another.
type Spacer struct {
	mu   sync.Mutex
	keys map[string]*gate
}

type gate struct {
	mu       sync.Mutex
	lastCall time.Time
}

func New() *Spacer {
	return &Spacer{keys: make(map[string]*gate)}
}

func (s *Spacer) gateFor(key string) *gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.keys[key]
	if !ok {
		g = &gate{}
		s.keys[key] = g
	}
	return g
}

// Wait suspends the caller until at least minInterval has elapsed since the
// previous call spaced under key, then records this call's time. Concurrent
// callers on the same key queue on the gate mutex, so the interval holds
// pairwise across all of them.
func (s *Spacer) Wait(ctx context.Context, key string, minInterval time.Duration) error {
	if minInterval <= 0 {
		return ctx.Err()
	}
	g := s.gateFor(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastCall.IsZero() {
		if wait := minInterval - time.Since(g.lastCall); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	g.lastCall = time.Now()
	return nil
}
