// Package catalog lists the voices and models each provider offers. Live
// vendor lists are cached for a short time; providers that ship fallback
// voices degrade to them when the vendor cannot be reached. Custom voices from
// the store are merged in with a " (Custom)" suffix.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/store"
)

// DefaultCacheTTL is how long a successful vendor voice list is reused.
const DefaultCacheTTL = 5 * time.Minute

// customSuffix marks custom voices in merged listings.
const customSuffix = " (Custom)"

// ErrUnknownProvider is returned for a provider id that is not registered.
var ErrUnknownProvider = errors.New("catalog: unknown provider")

// Voice is one selectable voice.
type Voice struct {
	tts.VoiceProfile
	Custom bool `json:"custom,omitempty"`
}

// Listing is the voice catalogue of one provider.
type Listing struct {
	Success       bool        `json:"success"`
	Voices        []Voice     `json:"voices"`
	Models        []tts.Model `json:"models,omitempty"`
	UsingFallback bool        `json:"usingFallback"`
	Error         string      `json:"error,omitempty"`

	// VendorFailed is set when the vendor call failed and no fallback
	// exists. It selects a 500 response.
	VendorFailed bool `json:"-"`
}

// ProviderSummary describes a provider for clients choosing one.
type ProviderSummary struct {
	ID           string      `json:"id"`
	DisplayName  string      `json:"displayName"`
	ChunkSize    int         `json:"chunkSize"`
	DefaultModel string      `json:"defaultModel,omitempty"`
	Models       []tts.Model `json:"models,omitempty"`
	VoiceField   string      `json:"voiceField"`
	Configured   bool        `json:"configured"`
}

type cached struct {
	voices []tts.VoiceProfile
	at     time.Time
}

// Catalog resolves voice listings. It is safe for concurrent use.
type Catalog struct {
	providers *tts.Set
	custom    store.VoiceStore
	ttl       time.Duration
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCustomVoices merges custom voices from vs into every listing.
func WithCustomVoices(vs store.VoiceStore) Option {
	return func(c *Catalog) { c.custom = vs }
}

// WithCacheTTL sets how long vendor lists are cached. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Catalog) { c.ttl = d }
}

// WithClock overrides the time source of the cache.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates a Catalog over providers.
func New(providers *tts.Set, opts ...Option) *Catalog {
	c := &Catalog{
		providers: providers,
		ttl:       DefaultCacheTTL,
		now:       time.Now,
		cache:     make(map[string]cached),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Providers summarises every registered provider in registration order.
func (c *Catalog) Providers() []ProviderSummary {
	all := c.providers.All()
	out := make([]ProviderSummary, 0, len(all))
	for _, p := range all {
		info := p.Info()
		out = append(out, ProviderSummary{
			ID:           info.ID,
			DisplayName:  info.DisplayName,
			ChunkSize:    info.ChunkSize,
			DefaultModel: info.DefaultModel,
			Models:       info.Models,
			VoiceField:   voiceField(info.ID),
			Configured:   p.CheckCredentials() == nil,
		})
	}
	return out
}

// Voices returns the listing for provider. Only an unknown provider is an
// error; vendor failures are reported inside the listing.
func (c *Catalog) Voices(ctx context.Context, provider string) (Listing, error) {
	p, ok := c.providers.Get(provider)
	if !ok {
		return Listing{}, ErrUnknownProvider
	}
	info := p.Info()
	l := Listing{Success: true, Models: info.Models, Voices: []Voice{}}

	live, err := c.live(ctx, p)
	switch {
	case err == nil:
		l.Voices = appendVoices(l.Voices, live)
	case len(info.FallbackVoices) > 0:
		l.UsingFallback = true
		l.Voices = appendVoices(l.Voices, info.FallbackVoices)
		if !errors.Is(err, tts.ErrMissingCredential) {
			l.Error = err.Error()
		}
		observe.Logger(ctx).Warn("using fallback voices", "provider", info.ID, "err", err)
	default:
		l.Success = false
		l.Error = err.Error()
		l.VendorFailed = !errors.Is(err, tts.ErrMissingCredential)
		observe.Logger(ctx).Warn("voice list unavailable", "provider", info.ID, "err", err)
	}

	custom, err := c.customVoices(ctx, info.ID)
	if err != nil {
		observe.Logger(ctx).Error("custom voices unavailable", "provider", info.ID, "err", err)
	}
	l.Voices = append(custom, l.Voices...)
	return l, nil
}

// Refresh fetches every configured provider's voice list concurrently and
// fills the cache. It returns the first vendor error.
func (c *Catalog) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range c.providers.All() {
		if p.CheckCredentials() != nil {
			continue
		}
		g.Go(func() error {
			c.invalidate(p.Info().ID)
			_, err := c.live(ctx, p)
			return err
		})
	}
	return g.Wait()
}

func (c *Catalog) live(ctx context.Context, p tts.Provider) ([]tts.VoiceProfile, error) {
	id := p.Info().ID
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}
	if v, ok := c.fromCache(id); ok {
		return v, nil
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[id] = cached{voices: voices, at: c.now()}
		c.mu.Unlock()
	}
	return voices, nil
}

func (c *Catalog) fromCache(id string) ([]tts.VoiceProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[id]
	if !ok || c.ttl <= 0 || c.now().Sub(e.at) >= c.ttl {
		return nil, false
	}
	return e.voices, true
}

func (c *Catalog) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, id)
}

func (c *Catalog) customVoices(ctx context.Context, provider string) ([]Voice, error) {
	if c.custom == nil {
		return nil, nil
	}
	rows, err := c.custom.ListVoices(ctx, provider)
	if err != nil {
		return nil, err
	}
	out := make([]Voice, 0, len(rows))
	for _, r := range rows {
		out = append(out, Voice{
			VoiceProfile: tts.VoiceProfile{
				ID:          r.VoiceID,
				Name:        r.Name + customSuffix,
				Provider:    r.Provider,
				Description: r.Description,
			},
			Custom: true,
		})
	}
	return out, nil
}

func appendVoices(dst []Voice, src []tts.VoiceProfile) []Voice {
	for _, v := range src {
		dst = append(dst, Voice{VoiceProfile: v})
	}
	return dst
}
