// Package minimax provides a MiniMax-backed TTS provider. It implements the
// tts.Provider interface over the MiniMax t2a_v2 API, which authenticates with a
// bearer token plus a GroupId query parameter and returns the audio as a
// hex-encoded string inside a JSON envelope.
package minimax

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

const (
	// ID is the provider identifier used in requests and configuration.
	ID = "minimax"

	// DisplayName is the vendor name shown to users.
	DisplayName = "MiniMax"

	// ChunkSize is the maximum characters per request.
	ChunkSize = 2500

	defaultBaseURL      = "https://api.minimaxi.chat"
	defaultVoicesURL    = "https://api.minimax.io"
	synthesisPath       = "/v1/t2a_v2"
	voicesPath          = "/v1/get_voice"
	defaultModel        = "speech-02-hd"
	defaultTimeout      = 120 * time.Second
	defaultSampleRate   = 32000
	defaultBitrate      = 128000
	defaultAudioFormat  = "mp3"
	defaultAudioChannel = 1
)

// models is the MiniMax model catalogue.
var models = []tts.Model{
	{ID: "speech-02-turbo", Name: "Speech-02 Turbo", Type: "TTS"},
	{ID: "speech-02-hd", Name: "Speech-02 HD", Type: "TTS"},
	{ID: "speech-01-turbo", Name: "Speech-01 Turbo", Type: "TTS"},
	{ID: "speech-01-hd", Name: "Speech-01 HD", Type: "TTS"},
}

// Option is a functional option for configuring the MiniMax Provider.
type Option func(*Provider)

// WithModel sets the default model used when a request names none.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the synthesis API base URL.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithVoicesURL overrides the base URL of the voice list API, which MiniMax
// serves from a different host than synthesis.
func WithVoicesURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.voicesURL = strings.TrimRight(base, "/")
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

// Provider implements tts.Provider backed by the MiniMax API.
type Provider struct {
	apiKey     string
	groupID    string
	model      string
	baseURL    string
	voicesURL  string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a MiniMax Provider. Empty credentials are accepted; calls then
// fail with a credential error before any network I/O.
func New(apiKey, groupID string, opts ...Option) (*Provider, error) {
	p := &Provider{
		apiKey:     apiKey,
		groupID:    groupID,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		voicesURL:  defaultVoicesURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !p.Info().HasModel(p.model) {
		return nil, fmt.Errorf("minimax: unknown model %q", p.model)
	}
	return p, nil
}

// Info implements tts.Provider.
func (p *Provider) Info() tts.Info {
	return tts.Info{
		ID:           ID,
		DisplayName:  DisplayName,
		ChunkSize:    ChunkSize,
		APIEndpoint:  defaultBaseURL + "/v1",
		DefaultModel: p.model,
		Models:       models,
	}
}

// CheckCredentials implements tts.Provider. Both the API key and the group ID
// are required.
func (p *Provider) CheckCredentials() error {
	if p.apiKey == "" || p.groupID == "" {
		return tts.MissingCredential(ID, "MiniMax API key or Group ID not configured")
	}
	return nil
}

// ---- wire types ----

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

// t2aRequest is the JSON body for POST /v1/t2a_v2.
type t2aRequest struct {
	Model          string       `json:"model"`
	Text           string       `json:"text"`
	Stream         bool         `json:"stream"`
	SubtitleEnable bool         `json:"subtitle_enable"`
	VoiceSetting   voiceSetting `json:"voice_setting"`
	AudioSetting   audioSetting `json:"audio_setting"`
}

// baseResp is MiniMax's in-band status object. A zero StatusCode means success.
type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

// t2aResponse is the JSON envelope returned by /v1/t2a_v2.
type t2aResponse struct {
	Data *struct {
		Audio string `json:"audio"`
	} `json:"data"`
	BaseResp *baseResp `json:"base_resp"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}
	if req.VoiceID == "" {
		return nil, errors.New("minimax: voice ID must not be empty")
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(t2aRequest{
		Model:  model,
		Text:   req.Text,
		Stream: false,
		VoiceSetting: voiceSetting{
			VoiceID: req.VoiceID,
			Speed:   1,
			Vol:     1,
			Pitch:   0,
		},
		AudioSetting: audioSetting{
			SampleRate: defaultSampleRate,
			Bitrate:    defaultBitrate,
			Format:     defaultAudioFormat,
			Channel:    defaultAudioChannel,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("minimax: encode request: %w", err)
	}

	endpoint := p.baseURL + synthesisPath + "?" + url.Values{"GroupId": {p.groupID}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("minimax: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("minimax: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("minimax: synthesize: %w", tts.NewAPIError(DisplayName, resp))
	}

	var tr t2aResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("minimax: decode response: %w", err)
	}
	return decodeAudio(tr)
}

// decodeAudio extracts and hex-decodes the audio field of a t2a response.
func decodeAudio(tr t2aResponse) ([]byte, error) {
	if tr.BaseResp != nil && tr.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("minimax: synthesize: %w", &tts.APIError{
			Provider:   DisplayName,
			StatusCode: tr.BaseResp.StatusCode,
			Status:     tr.BaseResp.StatusMsg,
		})
	}
	if tr.Data == nil || tr.Data.Audio == "" {
		return nil, fmt.Errorf("minimax: %w", tts.ErrEmptyAudio)
	}
	audio, err := hex.DecodeString(tr.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("minimax: decode hex audio: %w", err)
	}
	return audio, nil
}

// ---- ListVoices ----

type systemVoice struct {
	VoiceID     string   `json:"voice_id"`
	VoiceName   string   `json:"voice_name"`
	Description []string `json:"description"`
}

type voicesResponse struct {
	SystemVoice []systemVoice `json:"system_voice"`
	BaseResp    *baseResp     `json:"base_resp"`
}

// ListVoices implements tts.Provider. Only system voices are listed.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiKey == "" {
		return nil, tts.MissingCredential(ID, "MiniMax API key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.voicesURL+voicesPath,
		strings.NewReader(`{"voice_type":"system"}`))
	if err != nil {
		return nil, fmt.Errorf("minimax: list voices: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("minimax: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("minimax: list voices: %w", tts.NewAPIError(DisplayName, resp))
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("minimax: list voices decode: %w", err)
	}
	if vr.BaseResp != nil && vr.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("minimax: list voices: %s (%d)", vr.BaseResp.StatusMsg, vr.BaseResp.StatusCode)
	}

	out := make([]tts.VoiceProfile, 0, len(vr.SystemVoice))
	for _, v := range vr.SystemVoice {
		if v.VoiceID == "" {
			continue
		}
		name := v.VoiceName
		if name == "" {
			name = v.VoiceID
		}
		out = append(out, tts.VoiceProfile{
			ID:          v.VoiceID,
			Name:        name,
			Provider:    ID,
			Description: strings.Join(v.Description, ", "),
		})
	}
	return out, nil
}
