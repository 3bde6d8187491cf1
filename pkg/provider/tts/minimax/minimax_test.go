package minimax

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

func mustNew(t *testing.T, apiKey, groupID string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(apiKey, groupID, opts...)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return p
}

func TestSynthesize_DecodesHexAudio(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x00, 0xff, 0x10}
	var got t2aRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != synthesisPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		if g := r.URL.Query().Get("GroupId"); g != "group-7" {
			t.Errorf("GroupId = %q, want group-7", g)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"data":{"audio":"`+hex.EncodeToString(audio)+`"},"base_resp":{"status_code":0,"status_msg":"success"}}`)
	}))
	defer srv.Close()

	p := mustNew(t, "key", "group-7", WithBaseURL(srv.URL))
	out, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello", VoiceID: "female-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out) != string(audio) {
		t.Errorf("audio = %x, want %x", out, audio)
	}
	if got.Model != "speech-02-hd" {
		t.Errorf("model = %q, want default speech-02-hd", got.Model)
	}
	if got.Stream || got.SubtitleEnable {
		t.Error("stream and subtitle_enable must be false")
	}
	if got.VoiceSetting != (voiceSetting{VoiceID: "female-1", Speed: 1, Vol: 1, Pitch: 0}) {
		t.Errorf("voice_setting = %+v", got.VoiceSetting)
	}
	if got.AudioSetting != (audioSetting{SampleRate: 32000, Bitrate: 128000, Format: "mp3", Channel: 1}) {
		t.Errorf("audio_setting = %+v", got.AudioSetting)
	}
}

func TestDecodeAudio(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "ok", body: `{"data":{"audio":"616263"}}`, want: "abc"},
		{name: "missing data", body: `{}`, wantErr: true},
		{name: "empty audio", body: `{"data":{"audio":""}}`, wantErr: true},
		{name: "bad hex", body: `{"data":{"audio":"zz"}}`, wantErr: true},
		{name: "odd length", body: `{"data":{"audio":"616"}}`, wantErr: true},
		{name: "vendor status", body: `{"base_resp":{"status_code":1004,"status_msg":"auth failed"}}`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var tr t2aResponse
			if err := json.Unmarshal([]byte(tc.body), &tr); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, err := decodeAudio(tr)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeAudio: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSynthesize_NoAudioIsEmptyAudioError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	p := mustNew(t, "key", "g", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	if !errors.Is(err, tts.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestSynthesize_HTTPErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "rate limited")
	}))
	defer srv.Close()

	p := mustNew(t, "key", "g", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want status and body", err)
	}
}

func TestCheckCredentials(t *testing.T) {
	tests := []struct {
		key, group string
		ok         bool
	}{
		{"k", "g", true},
		{"", "g", false},
		{"k", "", false},
	}
	for _, tc := range tests {
		err := mustNew(t, tc.key, tc.group).CheckCredentials()
		if (err == nil) != tc.ok {
			t.Errorf("CheckCredentials(%q, %q) = %v, want ok=%v", tc.key, tc.group, err, tc.ok)
		}
		if err != nil && err.Error() != "MiniMax API key or Group ID not configured" {
			t.Errorf("message = %q", err.Error())
		}
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != voicesPath {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"voice_type":"system"`) {
			t.Errorf("body = %s", body)
		}
		_, _ = io.WriteString(w, `{"system_voice":[
			{"voice_id":"Wise_Woman","voice_name":"Wise Woman","description":["calm","mature"]},
			{"voice_id":"Calm_Man","voice_name":""},
			{"voice_id":"","voice_name":"broken"}
		]}`)
	}))
	defer srv.Close()

	p := mustNew(t, "key", "", WithVoicesURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Description != "calm, mature" {
		t.Errorf("description = %q", voices[0].Description)
	}
	if voices[1].Name != "Calm_Man" {
		t.Errorf("name = %q, want voice id fallback", voices[1].Name)
	}
}
