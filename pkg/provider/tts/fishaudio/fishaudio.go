// Package fishaudio provides a Fish Audio-backed TTS provider. It implements
// the tts.Provider interface over the Fish Audio REST API: requests carry a
// bearer token plus a "Model" header, and the response body is the encoded
// audio itself.
package fishaudio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

const (
	// ID is the provider identifier used in requests and configuration.
	ID = "fishaudio"

	// DisplayName is the vendor name shown to users.
	DisplayName = "Fish Audio"

	// ChunkSize is the maximum characters per request.
	ChunkSize = 3000

	defaultBaseURL = "https://api.fish.audio"
	ttsPath        = "/v1/tts"
	modelsPath     = "/model"
	defaultModel   = "speech-1.5"
	defaultTimeout = 120 * time.Second
	pricingPerByte = "$15.00 / million UTF-8 bytes"
)

// models is the Fish Audio model catalogue.
var models = []tts.Model{
	{ID: "speech-1.5", Name: "Speech-1.5", Type: "TTS", Pricing: pricingPerByte},
	{ID: "speech-1.6", Name: "Speech-1.6", Type: "TTS", Pricing: pricingPerByte},
	{ID: "s1", Name: "S1", Type: "TTS", Pricing: "Contact for pricing"},
}

// fallbackVoices is shown when the live model list cannot be fetched.
var fallbackVoices = []tts.VoiceProfile{
	{ID: "fallback-female", Name: "Gentle Female Voice (Fallback)", Provider: ID},
	{ID: "fallback-male", Name: "Professional Male Voice (Fallback)", Provider: ID},
}

// Option is a functional option for configuring the Fish Audio Provider.
type Option func(*Provider)

// WithModel sets the default model used when a request names none.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API base URL, e.g. for tests.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithTimeout sets the HTTP client timeout. The default is 120 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// ListOptions filters the live voice list.
type ListOptions struct {
	PageSize   int
	PageNumber int
	SortBy     string
	Title      string
	Languages  []string
	Self       bool
}

// WithListOptions sets the filters used by ListVoices.
func WithListOptions(o ListOptions) Option {
	return func(p *Provider) {
		p.list = o
	}
}

// Provider implements tts.Provider backed by the Fish Audio API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	list       ListOptions
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Fish Audio Provider. An empty apiKey is accepted; calls then
// fail with a credential error before any network I/O.
func New(apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		list:       ListOptions{PageSize: 50, PageNumber: 1, SortBy: "score"},
	}
	for _, o := range opts {
		o(p)
	}
	if !p.Info().HasModel(p.model) {
		return nil, fmt.Errorf("fishaudio: unknown model %q", p.model)
	}
	if _, err := url.Parse(p.baseURL); err != nil {
		return nil, fmt.Errorf("fishaudio: invalid base URL %q: %w", p.baseURL, err)
	}
	return p, nil
}

// Info implements tts.Provider.
func (p *Provider) Info() tts.Info {
	return tts.Info{
		ID:             ID,
		DisplayName:    DisplayName,
		ChunkSize:      ChunkSize,
		APIEndpoint:    defaultBaseURL + "/v1",
		DefaultModel:   p.model,
		Models:         models,
		FallbackVoices: fallbackVoices,
	}
}

// CheckCredentials implements tts.Provider.
func (p *Provider) CheckCredentials() error {
	if p.apiKey == "" {
		return tts.MissingCredential(ID, "Fish Audio API key not configured")
	}
	return nil
}

// ttsRequest is the JSON body for POST /v1/tts.
type ttsRequest struct {
	Text        string `json:"text"`
	Format      string `json:"format"`
	MP3Bitrate  int    `json:"mp3_bitrate"`
	ReferenceID string `json:"reference_id"`
	Normalize   bool   `json:"normalize"`
	Latency     string `json:"latency"`
}

// Synthesize implements tts.Provider. The response body is returned as-is.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}
	if req.VoiceID == "" {
		return nil, errors.New("fishaudio: voice ID must not be empty")
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(ttsRequest{
		Text:        req.Text,
		Format:      "mp3",
		MP3Bitrate:  128,
		ReferenceID: req.VoiceID,
		Normalize:   true,
		Latency:     "normal",
	})
	if err != nil {
		return nil, fmt.Errorf("fishaudio: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+ttsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fishaudio: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Model", model)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fishaudio: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fishaudio: synthesize: %w", tts.NewAPIError(DisplayName, resp))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fishaudio: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("fishaudio: %w", tts.ErrEmptyAudio)
	}
	return audio, nil
}

// ---- ListVoices ----

// modelList is the response from GET /model.
type modelList struct {
	Total int          `json:"total"`
	Items []modelEntry `json:"items"`
}

// modelEntry is one voice model in the Fish Audio catalogue.
type modelEntry struct {
	ID          string   `json:"_id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Visibility  string   `json:"visibility"`
	Languages   []string `json:"languages"`
	Tags        []string `json:"tags"`
	LikeCount   int      `json:"like_count"`
	CreatedAt   string   `json:"created_at"`
	Author      struct {
		Nickname string `json:"nickname"`
	} `json:"author"`
}

// ListVoices implements tts.Provider. Only tts and svc models are voices.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+modelsPath+"?"+p.listQuery().Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fishaudio: list voices: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fishaudio: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fishaudio: list voices: %w", tts.NewAPIError(DisplayName, resp))
	}

	var ml modelList
	if err := json.NewDecoder(resp.Body).Decode(&ml); err != nil {
		return nil, fmt.Errorf("fishaudio: list voices decode: %w", err)
	}
	return toProfiles(ml), nil
}

func (p *Provider) listQuery() url.Values {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(max(p.list.PageSize, 1)))
	q.Set("page_number", strconv.Itoa(max(p.list.PageNumber, 1)))
	sortBy := p.list.SortBy
	if sortBy == "" {
		sortBy = "score"
	}
	q.Set("sort_by", sortBy)
	if p.list.Title != "" {
		q.Set("title", p.list.Title)
	}
	for _, lang := range p.list.Languages {
		q.Add("language", lang)
	}
	if p.list.Self {
		q.Set("self", "true")
	}
	return q
}

func toProfiles(ml modelList) []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, 0, len(ml.Items))
	for _, m := range ml.Items {
		if m.Type != "tts" && m.Type != "svc" {
			continue
		}
		author := m.Author.Nickname
		if author == "" {
			author = "Unknown"
		}
		out = append(out, tts.VoiceProfile{
			ID:          m.ID,
			Name:        m.Title,
			Provider:    ID,
			Description: m.Description,
			Metadata: map[string]string{
				"type":       m.Type,
				"author":     author,
				"languages":  strings.Join(m.Languages, ","),
				"tags":       strings.Join(m.Tags, ","),
				"like_count": strconv.Itoa(m.LikeCount),
				"visibility": m.Visibility,
				"created_at": m.CreatedAt,
			},
		})
	}
	return out
}
