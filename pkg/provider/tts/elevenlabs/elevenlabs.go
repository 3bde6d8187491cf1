// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider interface.
//
// Synthesis always uses the multilingual model and MP3 output; the full audio
// stream is drained before Synthesize returns.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

const (
	// ID is the provider identifier used in requests and configuration.
	ID = "elevenlabs"

	// DisplayName is the vendor name shown to users.
	DisplayName = "ElevenLabs"

	// ChunkSize is the maximum characters per request.
	ChunkSize = 3000

	defaultStreamURL = "wss://api.elevenlabs.io"
	defaultAPIURL    = "https://api.elevenlabs.io"
	streamPathFmt    = "/v1/text-to-speech/%s/stream-input"
	voicesPath       = "/v1/voices"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"

	// readLimit bounds a single WebSocket message. Audio frames are base64 MP3
	// and routinely exceed the library default of 32 KiB.
	readLimit = 8 << 20
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel overrides the model ID. The default is "eleven_multilingual_v2".
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format. The default is "mp3_44100_128".
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithStreamURL overrides the WebSocket base URL (scheme and host), e.g. for tests.
func WithStreamURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.streamURL = strings.TrimRight(base, "/")
		}
	}
}

// WithAPIURL overrides the REST base URL used for the voice list.
func WithAPIURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.apiURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for REST calls and the WebSocket
// handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	streamURL    string
	apiURL       string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. An empty apiKey is accepted so the
// provider can still be listed; [Provider.CheckCredentials] reports it.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		streamURL:    defaultStreamURL,
		apiURL:       defaultAPIURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Info implements tts.Provider.
func (p *Provider) Info() tts.Info {
	return tts.Info{
		ID:           ID,
		DisplayName:  DisplayName,
		ChunkSize:    ChunkSize,
		APIEndpoint:  defaultAPIURL + "/v1",
		DefaultModel: defaultModel,
		Models: []tts.Model{
			{ID: defaultModel, Name: "Eleven Multilingual v2", Type: "TTS"},
		},
	}
}

// CheckCredentials implements tts.Provider.
func (p *Provider) CheckCredentials() error {
	if p.apiKey == "" {
		return tts.MissingCredential(ID, "ElevenLabs API key not configured")
	}
	return nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" message that authenticates the stream.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage carries text. An empty Text is the end-of-input (flush) command.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// audioResponse is a message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize opens a stream-input WebSocket, sends the whole text followed by
// the flush command, and drains every audio frame until the vendor signals the
// final frame or closes the stream normally.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}
	if req.VoiceID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, resp, err := websocket.Dial(ctx, p.streamURLFor(req.VoiceID), &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("elevenlabs: dial: %w", tts.NewAPIError(DisplayName, resp))
		}
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	messages := []any{
		boiMessage{
			Text:          " ", // ElevenLabs requires a non-empty first text value
			VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
			XiAPIKey:      p.apiKey,
		},
		textMessage{Text: ensureTrailingSpace(req.Text), TryTriggerGeneration: true},
		textMessage{Text: ""},
	}
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	audio, err := drain(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return audio, nil
}

// drain reads audio frames until isFinal or a normal close and returns the
// concatenated audio.
func drain(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var buf bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read stream: %w", err)
		}
		var ar audioResponse
		if err := json.Unmarshal(msg, &ar); err != nil {
			return nil, fmt.Errorf("elevenlabs: decode frame: %w", err)
		}
		if ar.Error != "" || (ar.Message != "" && ar.Audio == "" && !ar.IsFinal) {
			return nil, fmt.Errorf("elevenlabs: stream error: %s", strings.TrimSpace(ar.Error+" "+ar.Message))
		}
		if ar.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(ar.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			buf.Write(chunk)
		}
		if ar.IsFinal {
			break
		}
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("elevenlabs: %w", tts.ErrEmptyAudio)
	}
	return buf.Bytes(), nil
}

// ---- ListVoices ----

// maxVoicesBody caps the size of a voice list response.
const maxVoicesBody = 16 << 20

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID     string            `json:"voice_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Labels      map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", tts.NewAPIError(DisplayName, resp))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoicesBody))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	profiles, err := parseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// ---- helpers ----

// streamURLFor constructs the stream-input URL for a voice.
func (p *Provider) streamURLFor(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return p.streamURL + fmt.Sprintf(streamPathFmt, url.PathEscape(voiceID)) + "?" + q.Encode()
}

// ensureTrailingSpace appends the trailing space the stream-input API expects
// at the end of each text message.
func ensureTrailingSpace(s string) string {
	if strings.HasSuffix(s, " ") {
		return s
	}
	return s + " "
}

// parseVoicesResponse parses a raw /v1/voices JSON body.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return toProfiles(vr), nil
}

func toProfiles(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:          v.VoiceID,
			Name:        v.Name,
			Provider:    ID,
			Description: v.Description,
			Metadata:    meta,
		})
	}
	return profiles
}
