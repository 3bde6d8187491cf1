// Package synth implements single-chunk synthesis: validate a request, call
// the matching TTS provider, and return the audio in a transferable form.
//
// Nothing is persisted. The batch orchestrator calls [Service.Synthesize]
// in-process, and remote clients reach the same code through [Handler].
package synth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/resilience"
	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// CharsPerSecond is the assumed speaking rate used to estimate durations.
const CharsPerSecond = 15

// Request is one single-chunk synthesis call. The JSON names match the
// browser client of the original web app.
type Request struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`

	// Voice is the display label of the selected voice. It only feeds the
	// generated filename.
	Voice string `json:"voice,omitempty"`

	// Model is a generic model override. Provider-specific fields win.
	Model string `json:"model,omitempty"`

	// VoiceID is the generic voice identifier for providers that have no
	// dedicated field below.
	VoiceID string `json:"voiceId,omitempty"`

	ElevenLabsVoiceID string `json:"elevenLabsVoiceId,omitempty"`
	FishAudioVoiceID  string `json:"fishAudioVoiceId,omitempty"`
	FishAudioModel    string `json:"fishAudioModel,omitempty"`
	MinimaxVoiceID    string `json:"minimaxVoiceId,omitempty"`
	MinimaxModel      string `json:"minimaxModel,omitempty"`

	ChunkIndex int    `json:"chunkIndex"`
	UserID     string `json:"userId,omitempty"`
}

// VoiceField returns the name of the request field that carries the voice
// identifier for provider.
func VoiceField(provider string) string {
	switch provider {
	case "elevenlabs":
		return "elevenLabsVoiceId"
	case "fishaudio":
		return "fishAudioVoiceId"
	case "minimax":
		return "minimaxVoiceId"
	default:
		return "voiceId"
	}
}

// WithVoice returns a copy of r with voiceID stored in the field that
// provider reads.
func (r Request) WithVoice(voiceID string) Request {
	switch r.Provider {
	case "elevenlabs":
		r.ElevenLabsVoiceID = voiceID
	case "fishaudio":
		r.FishAudioVoiceID = voiceID
	case "minimax":
		r.MinimaxVoiceID = voiceID
	default:
		r.VoiceID = voiceID
	}
	return r
}

// voiceID returns the provider-specific voice identifier.
func (r Request) voiceID() string {
	switch r.Provider {
	case "elevenlabs":
		return r.ElevenLabsVoiceID
	case "fishaudio":
		return r.FishAudioVoiceID
	case "minimax":
		return r.MinimaxVoiceID
	default:
		return r.VoiceID
	}
}

// model returns the provider-specific model override, if any.
func (r Request) model() string {
	switch r.Provider {
	case "fishaudio":
		if r.FishAudioModel != "" {
			return r.FishAudioModel
		}
	case "minimax":
		if r.MinimaxModel != "" {
			return r.MinimaxModel
		}
	}
	return r.Model
}

// Response is the outcome of one synthesis call.
type Response struct {
	Success    bool   `json:"success"`
	AudioURL   string `json:"audioUrl,omitempty"`
	AudioData  string `json:"audioData,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Voice      string `json:"voice,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
	Filename   string `json:"filename,omitempty"`
	Size       int    `json:"size,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ValidationError reports a request rejected before any vendor call.
type ValidationError struct {
	ChunkIndex int

	// Field names the missing field or credential.
	Field   string
	Message string

	// Status is the HTTP status the endpoint answers with: 400 for caller
	// mistakes, 500 for server-side misconfiguration such as a missing key.
	Status int
}

// Error implements error.
func (e *ValidationError) Error() string { return e.Message }

// ErrCircuitOpen is matched when a provider's breaker rejected the call.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRateLimit paces calls to provider to perMinute requests with the given
// burst. perMinute <= 0 removes the limit.
func WithRateLimit(provider string, perMinute, burst int) Option {
	return func(s *Service) {
		if perMinute <= 0 {
			delete(s.limiters, provider)
			return
		}
		s.limiters[provider] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(burst, 1))
	}
}

// WithBreakers sets the per-provider circuit breakers. Default: a
// [resilience.BreakerSet] with default tuning.
func WithBreakers(b *resilience.BreakerSet) Option {
	return func(s *Service) { s.breakers = b }
}

// WithClock overrides the time source used for filenames.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service validates and executes single-chunk synthesis requests. It is safe
// for concurrent use.
type Service struct {
	providers *tts.Set
	metrics   *observe.Metrics
	breakers  *resilience.BreakerSet
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Service over providers.
func New(providers *tts.Set, opts ...Option) *Service {
	s := &Service{
		providers: providers,
		limiters:  make(map[string]*rate.Limiter),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.breakers == nil {
		s.breakers = resilience.NewBreakerSet(resilience.CircuitBreakerConfig{})
	}
	return s
}

// Providers returns the provider lookup table.
func (s *Service) Providers() *tts.Set { return s.providers }

// SetRateLimit replaces the pacing for provider at runtime.
func (s *Service) SetRateLimit(provider string, perMinute, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	WithRateLimit(provider, perMinute, burst)(s)
}

func (s *Service) limiter(provider string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiters[provider]
}

// Validate checks req in the order the endpoint reports problems: required
// fields, known provider, provider voice field, provider credentials. It
// returns the resolved provider and vendor request, or a *ValidationError.
func (s *Service) Validate(req Request) (tts.Provider, tts.Request, error) {
	if req.Text == "" || req.Provider == "" {
		return nil, tts.Request{}, &ValidationError{
			ChunkIndex: req.ChunkIndex,
			Field:      "text",
			Message:    "Missing required fields: text and provider are required",
			Status:     http.StatusBadRequest,
		}
	}
	p, ok := s.providers.Get(req.Provider)
	if !ok {
		return nil, tts.Request{}, &ValidationError{
			ChunkIndex: req.ChunkIndex,
			Field:      "provider",
			Message:    "Unsupported provider: " + req.Provider,
			Status:     http.StatusBadRequest,
		}
	}
	voiceID := req.voiceID()
	if voiceID == "" {
		field := VoiceField(req.Provider)
		return nil, tts.Request{}, &ValidationError{
			ChunkIndex: req.ChunkIndex,
			Field:      field,
			Message:    fmt.Sprintf("Missing required field '%s' for %s", field, p.Info().DisplayName),
			Status:     http.StatusBadRequest,
		}
	}
	if err := p.CheckCredentials(); err != nil {
		return nil, tts.Request{}, &ValidationError{
			ChunkIndex: req.ChunkIndex,
			Field:      "credentials",
			Message:    err.Error(),
			Status:     http.StatusInternalServerError,
		}
	}
	return p, tts.Request{Text: req.Text, VoiceID: voiceID, Model: req.model()}, nil
}

// Synthesize validates req and calls the provider. Validation failures return
// a *ValidationError without contacting the vendor. Any other error means the
// vendor call failed; a rejected call because of an open breaker matches
// [ErrCircuitOpen].
func (s *Service) Synthesize(ctx context.Context, req Request) (*Response, error) {
	p, vreq, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "synth.Synthesize",
		trace.WithAttributes(
			attribute.String("provider", req.Provider),
			attribute.Int("chunk_index", req.ChunkIndex),
			attribute.Int("text_length", len(req.Text)),
		),
	)
	audio, err := s.call(ctx, p, vreq)
	observe.EndSpan(span, err)
	if err != nil {
		observe.Logger(ctx).Warn("chunk synthesis failed",
			"provider", req.Provider,
			"chunk_index", req.ChunkIndex,
			"err", err,
		)
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(audio)
	resp := &Response{
		Success:    true,
		AudioURL:   "data:audio/mpeg;base64," + encoded,
		AudioData:  encoded,
		Duration:   EstimateDuration(req.Text),
		Provider:   req.Provider,
		Voice:      req.Voice,
		ChunkIndex: req.ChunkIndex,
		Filename:   Filename(req.Provider, req.Voice, req.ChunkIndex, s.now()),
		Size:       len(audio),
	}
	observe.Logger(ctx).Debug("chunk synthesised",
		"provider", req.Provider,
		"chunk_index", req.ChunkIndex,
		"bytes", len(audio),
	)
	return resp, nil
}

// call paces, guards and measures one vendor request.
func (s *Service) call(ctx context.Context, p tts.Provider, req tts.Request) ([]byte, error) {
	id := p.Info().ID
	if lim := s.limiter(id); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("synth: rate limit wait: %w", err)
		}
	}

	attrs := metric.WithAttributes(attribute.String("provider", id))
	s.metrics.InFlightChunks.Add(ctx, 1)
	defer s.metrics.InFlightChunks.Add(ctx, -1)

	start := time.Now()
	var audio []byte
	err := s.breakers.For(id).Execute(func() error {
		var err error
		audio, err = p.Synthesize(ctx, req)
		if err == nil && len(audio) == 0 {
			err = tts.ErrEmptyAudio
		}
		return err
	})
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		kind := "tts"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			kind = "circuit_open"
		}
		s.metrics.RecordProviderRequest(ctx, id, "tts", "error")
		s.metrics.RecordProviderError(ctx, id, kind)
		return nil, err
	}
	s.metrics.RecordProviderRequest(ctx, id, "tts", "ok")
	s.metrics.AudioBytes.Add(ctx, int64(len(audio)), attrs)
	return audio, nil
}

// EstimateDuration returns the estimated spoken length of text in whole
// seconds, rounded up.
func EstimateDuration(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / CharsPerSecond))
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename builds "<provider>-<voice>-chunk<index>-<unix ms>.mp3". Characters
// outside [A-Za-z0-9] in voice become underscores; an empty voice becomes
// "unknown".
func Filename(provider, voice string, chunkIndex int, now time.Time) string {
	v := unsafeFilenameChars.ReplaceAllString(voice, "_")
	if v == "" {
		v = "unknown"
	}
	return fmt.Sprintf("%s-%s-chunk%d-%d.mp3", provider, v, chunkIndex, now.UnixMilli())
}
