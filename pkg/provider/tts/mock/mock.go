// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify which texts
// and voices were sent to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    InfoValue:   tts.Info{ID: "fake", DisplayName: "Fake", ChunkSize: 100},
//	    Audio:       []byte("audio"),
//	    VoicesValue: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "hi", VoiceID: "v1"})
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Req is the request passed to Synthesize.
	Req tts.Request
	// At is the time the call started.
	At time.Time
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// InfoValue is returned by Info. An empty ID defaults to "mock".
	InfoValue tts.Info

	// CredErr, if non-nil, is returned by CheckCredentials and by Synthesize
	// before any other behaviour.
	CredErr error

	// Audio is returned by Synthesize when SynthesizeFunc is nil.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned from Synthesize when
	// SynthesizeFunc is nil.
	SynthesizeErr error

	// SynthesizeFunc, if set, computes the result of every Synthesize call. It
	// runs after Delay.
	SynthesizeFunc func(ctx context.Context, req tts.Request) ([]byte, error)

	// Delay makes every Synthesize call wait before answering. The wait ends
	// early with ctx.Err() if the context is cancelled.
	Delay time.Duration

	// VoicesValue is returned by ListVoices.
	VoicesValue []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Info returns InfoValue with a default ID.
func (p *Provider) Info() tts.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := p.InfoValue
	if info.ID == "" {
		info.ID = "mock"
	}
	if info.DisplayName == "" {
		info.DisplayName = "Mock"
	}
	return info
}

// CheckCredentials returns CredErr.
func (p *Provider) CheckCredentials() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CredErr
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Req: req, At: time.Now()})
	credErr := p.CredErr
	fn := p.SynthesizeFunc
	delay := p.Delay
	audio := slices.Clone(p.Audio)
	synthErr := p.SynthesizeErr
	p.mu.Unlock()

	if credErr != nil {
		return nil, credErr
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if synthErr != nil {
		return nil, synthErr
	}
	return audio, nil
}

// ListVoices records the call and returns VoicesValue, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return slices.Clone(p.VoicesValue), p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.SynthesizeCalls)
}

// Texts returns the Text of every recorded Synthesize call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Req.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
