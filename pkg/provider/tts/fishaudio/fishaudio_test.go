package fishaudio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, apiKey string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(apiKey, opts...)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "k")
		if p.model != defaultModel {
			t.Errorf("model = %q, want %q", p.model, defaultModel)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		if _, err := New("k", WithModel("speech-9")); err == nil {
			t.Fatal("expected error for unknown model")
		}
	})
}

func TestSynthesize_Success(t *testing.T) {
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsPath {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if m := r.Header.Get("Model"); m != "s1" {
			t.Errorf("Model header = %q, want s1", m)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-mp3-bytes"))
	}))
	defer srv.Close()

	p := mustNew(t, "secret", WithBaseURL(srv.URL))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello.", VoiceID: "ref-1", Model: "s1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-mp3-bytes" {
		t.Errorf("audio = %q", audio)
	}
	want := ttsRequest{Text: "Hello.", Format: "mp3", MP3Bitrate: 128, ReferenceID: "ref-1", Normalize: true, Latency: "normal"}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

func TestSynthesize_DefaultModelHeader(t *testing.T) {
	var model atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model.Store(r.Header.Get("Model"))
		_, _ = w.Write([]byte("a"))
	}))
	defer srv.Close()

	p := mustNew(t, "k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := model.Load(); got != "speech-1.5" {
		t.Errorf("Model header = %v, want speech-1.5", got)
	}
}

func TestSynthesize_VendorErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"message":"insufficient balance"}`)
	}))
	defer srv.Close()

	p := mustNew(t, "k", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *tts.APIError", err)
	}
	if apiErr.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "insufficient balance") {
		t.Errorf("error %q should include the body", err)
	}
	if !strings.Contains(err.Error(), "Payment Required") {
		t.Errorf("error %q should include the status text", err)
	}
}

func TestSynthesize_EmptyBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := mustNew(t, "k", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	if !errors.Is(err, tts.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestSynthesize_MissingCredentialMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := mustNew(t, "", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "v"})
	if !errors.Is(err, tts.ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if calls.Load() != 0 {
		t.Errorf("vendor called %d times, want 0", calls.Load())
	}
}

func TestListVoices_FiltersVoiceModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page_size") != "50" || q.Get("page_number") != "1" || q.Get("sort_by") != "score" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"total":3,"items":[
			{"_id":"m1","type":"tts","title":"Narrator","author":{"nickname":"fish"},"languages":["en"]},
			{"_id":"m2","type":"svc","title":"Singer"},
			{"_id":"m3","type":"llm","title":"Not a voice"}
		]}`)
	}))
	defer srv.Close()

	p := mustNew(t, "k", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "m1" || voices[0].Name != "Narrator" || voices[0].Metadata["author"] != "fish" {
		t.Errorf("voices[0] = %+v", voices[0])
	}
	if voices[1].Metadata["author"] != "Unknown" {
		t.Errorf("author = %q, want Unknown", voices[1].Metadata["author"])
	}
}

func TestInfo_FallbackAndModels(t *testing.T) {
	info := mustNew(t, "").Info()
	if len(info.FallbackVoices) != 2 || info.FallbackVoices[0].ID != "fallback-female" {
		t.Errorf("fallback voices = %+v", info.FallbackVoices)
	}
	if len(info.Models) != 3 {
		t.Errorf("models = %d, want 3", len(info.Models))
	}
	if info.ChunkSize != 3000 || info.DisplayName != "Fish Audio" {
		t.Errorf("info = %+v", info)
	}
}
