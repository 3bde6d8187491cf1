package resilience

import (
	"slices"
	"sync"
)

// BreakerSet lazily creates one [CircuitBreaker] per name, all sharing the
// same tuning. It is safe for concurrent use.
type BreakerSet struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet returns an empty set whose breakers use cfg. cfg.Name is
// ignored; each breaker is named after its key.
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// For returns the breaker for name, creating it on first use.
func (s *BreakerSet) For(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cfg := s.cfg
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	s.breakers[name] = cb
	return cb
}

// States reports the current state of every breaker created so far.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	names := make([]string, 0, len(s.breakers))
	for n := range s.breakers {
		names = append(names, n)
	}
	s.mu.Unlock()

	slices.Sort(names)
	out := make(map[string]State, len(names))
	for _, n := range names {
		out[n] = s.For(n).State()
	}
	return out
}
