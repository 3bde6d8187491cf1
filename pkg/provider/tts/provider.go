// Package tts defines the Provider interface for Text-to-Speech vendors.
//
// A TTS provider wraps one vendor synthesis API (ElevenLabs, Fish Audio, MiniMax)
// and presents a uniform request/response contract: a single block of text goes
// in, a complete encoded audio file comes out. Each vendor speaks a different wire
// protocol (WebSocket stream, raw HTTP body, hex-encoded JSON field); those details
// stay inside the implementation packages.
//
// Providers are looked up by identifier through a [Set], so adding a vendor means
// adding one implementation and one registration, not editing every call site.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"slices"
	"sync"
)

// Provider is the abstraction over any TTS vendor.
//
// Implementations must be safe for concurrent use. The batch orchestrator issues
// several Synthesize calls in parallel against the same Provider.
type Provider interface {
	// Info returns the static description of this provider: identifier, display
	// name, chunk-size limit, and model catalogue. The value never changes for the
	// lifetime of the Provider.
	Info() Info

	// CheckCredentials reports whether every credential required to reach the
	// vendor is configured. It performs no network I/O. The returned error wraps
	// [ErrMissingCredential] and its message names the missing credential.
	CheckCredentials() error

	// Synthesize converts req.Text into encoded audio using req.VoiceID and, when
	// the vendor supports it, req.Model (an empty Model selects the provider
	// default).
	//
	// Synthesize must validate credentials before any network call, must never
	// return empty audio together with a nil error, and must embed the vendor's
	// HTTP status and response body in the returned error when the vendor
	// rejects the call (see [APIError]).
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns the voices currently offered by the vendor for the
	// configured credentials.
	//
	// Returns an error if credentials are missing, the vendor cannot be reached, or
	// ctx is cancelled before the list is retrieved. Callers that must always show
	// something fall back to [Info.FallbackVoices].
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Set is the lookup table of providers keyed by [Info.ID]. It is safe for
// concurrent use.
type Set struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewSet returns a Set containing providers. Later entries with a duplicate ID
// replace earlier ones.
func NewSet(providers ...Provider) *Set {
	s := &Set{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		s.Add(p)
	}
	return s
}

// Add registers p under p.Info().ID, replacing any provider with the same ID.
func (s *Set) Add(p Provider) {
	id := p.Info().ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.providers[id]; !exists {
		s.order = append(s.order, id)
	}
	s.providers[id] = p
}

// Get returns the provider registered under id.
func (s *Set) Get(id string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

// IDs returns the registered identifiers in registration order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// All returns the registered providers in registration order.
func (s *Set) All() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Provider, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.providers[id])
	}
	return out
}

// Len returns the number of registered providers.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
