package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/tts"
	"github.com/MrWong99/narrata/pkg/provider/tts/mock"
	"github.com/MrWong99/narrata/pkg/store"
	storemock "github.com/MrWong99/narrata/pkg/store/mock"
)

func fishProvider() *mock.Provider {
	return &mock.Provider{
		InfoValue: tts.Info{
			ID:          "fishaudio",
			DisplayName: "Fish Audio",
			ChunkSize:   3000,
			Models:      []tts.Model{{ID: "speech-1.6", Name: "Speech 1.6"}},
			FallbackVoices: []tts.VoiceProfile{
				{ID: "fb-1", Name: "Fallback One", Provider: "fishaudio"},
			},
		},
		VoicesValue: []tts.VoiceProfile{{ID: "live-1", Name: "Live One", Provider: "fishaudio"}},
	}
}

func minimaxProvider() *mock.Provider {
	return &mock.Provider{
		InfoValue:   tts.Info{ID: "minimax", DisplayName: "MiniMax", ChunkSize: 2500},
		VoicesValue: []tts.VoiceProfile{{ID: "mm-1", Name: "Wise Woman", Provider: "minimax"}},
	}
}

func TestVoices_Live(t *testing.T) {
	t.Parallel()

	c := New(tts.NewSet(fishProvider()))
	l, err := c.Voices(context.Background(), "fishaudio")
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if !l.Success || l.UsingFallback {
		t.Errorf("Success=%v UsingFallback=%v, want true false", l.Success, l.UsingFallback)
	}
	if len(l.Voices) != 1 || l.Voices[0].ID != "live-1" {
		t.Errorf("Voices = %+v, want live-1", l.Voices)
	}
	if len(l.Models) != 1 {
		t.Errorf("Models = %d, want 1", len(l.Models))
	}
}

func TestVoices_UnknownProvider(t *testing.T) {
	t.Parallel()

	c := New(tts.NewSet(fishProvider()))
	if _, err := c.Voices(context.Background(), "acme"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestVoices_FallbackWithoutCredentials(t *testing.T) {
	t.Parallel()

	p := fishProvider()
	p.CredErr = tts.MissingCredential("fishaudio", "Fish Audio API key not configured")
	c := New(tts.NewSet(p))

	l, err := c.Voices(context.Background(), "fishaudio")
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if !l.Success || !l.UsingFallback {
		t.Errorf("Success=%v UsingFallback=%v, want true true", l.Success, l.UsingFallback)
	}
	if l.Error != "" {
		t.Errorf("Error = %q, want empty", l.Error)
	}
	if len(l.Voices) != 1 || l.Voices[0].ID != "fb-1" {
		t.Errorf("Voices = %+v, want fallback", l.Voices)
	}
	if p.ListVoicesCalls != 0 {
		t.Errorf("ListVoicesCalls = %d, want 0", p.ListVoicesCalls)
	}
}

func TestVoices_FallbackOnVendorError(t *testing.T) {
	t.Parallel()

	p := fishProvider()
	p.ListVoicesErr = errors.New("vendor down")
	l, _ := New(tts.NewSet(p)).Voices(context.Background(), "fishaudio")

	if !l.Success || !l.UsingFallback || l.VendorFailed {
		t.Errorf("listing = %+v, want success via fallback", l)
	}
	if l.Error != "vendor down" {
		t.Errorf("Error = %q, want %q", l.Error, "vendor down")
	}
}

func TestVoices_NoFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		credErr    error
		listErr    error
		wantVendor bool
	}{
		{name: "missing credentials", credErr: tts.MissingCredential("minimax", "MiniMax API key not configured")},
		{name: "vendor error", listErr: errors.New("boom"), wantVendor: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := minimaxProvider()
			p.CredErr = tt.credErr
			p.ListVoicesErr = tt.listErr

			l, err := New(tts.NewSet(p)).Voices(context.Background(), "minimax")
			if err != nil {
				t.Fatalf("Voices: %v", err)
			}
			if l.Success {
				t.Error("Success = true, want false")
			}
			if l.VendorFailed != tt.wantVendor {
				t.Errorf("VendorFailed = %v, want %v", l.VendorFailed, tt.wantVendor)
			}
			if l.Voices == nil || len(l.Voices) != 0 {
				t.Errorf("Voices = %v, want empty non-nil", l.Voices)
			}
		})
	}
}

func TestVoices_MergesCustomFirst(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	ctx := context.Background()
	if _, err := st.CreateVoice(ctx, store.Voice{VoiceID: "custom-1", Name: "Grandpa", Provider: "fishaudio"}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateVoice(ctx, store.Voice{VoiceID: "other", Name: "Elsewhere", Provider: "minimax"}); err != nil {
		t.Fatal(err)
	}

	l, _ := New(tts.NewSet(fishProvider()), WithCustomVoices(st)).Voices(ctx, "fishaudio")
	if len(l.Voices) != 2 {
		t.Fatalf("Voices = %+v, want 2 entries", l.Voices)
	}
	first := l.Voices[0]
	if first.ID != "custom-1" || first.Name != "Grandpa (Custom)" || !first.Custom {
		t.Errorf("first = %+v, want custom voice", first)
	}
	if l.Voices[1].ID != "live-1" {
		t.Errorf("second = %q, want live-1", l.Voices[1].ID)
	}
}

func TestVoices_CustomStoreErrorKeepsListing(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	st.Errs = map[string]error{"ListVoices": errors.New("db gone")}
	l, _ := New(tts.NewSet(fishProvider()), WithCustomVoices(st)).Voices(context.Background(), "fishaudio")
	if !l.Success || len(l.Voices) != 1 {
		t.Errorf("listing = %+v, want live voices only", l)
	}
}

func TestVoices_Cache(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := fishProvider()
	c := New(tts.NewSet(p), WithCacheTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _ = c.Voices(ctx, "fishaudio")
	_, _ = c.Voices(ctx, "fishaudio")
	if p.ListVoicesCalls != 1 {
		t.Errorf("ListVoicesCalls = %d, want 1 within TTL", p.ListVoicesCalls)
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Voices(ctx, "fishaudio")
	if p.ListVoicesCalls != 2 {
		t.Errorf("ListVoicesCalls = %d, want 2 after TTL", p.ListVoicesCalls)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	fish := fishProvider()
	mm := minimaxProvider()
	mm.CredErr = tts.MissingCredential("minimax", "no key")
	c := New(tts.NewSet(fish, mm))

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if fish.ListVoicesCalls != 1 {
		t.Errorf("fish ListVoicesCalls = %d, want 1", fish.ListVoicesCalls)
	}
	if mm.ListVoicesCalls != 0 {
		t.Errorf("minimax ListVoicesCalls = %d, want 0", mm.ListVoicesCalls)
	}

	fish.ListVoicesErr = errors.New("down")
	if err := c.Refresh(context.Background()); err == nil {
		t.Error("Refresh: want error from failing vendor")
	}
}

func TestProviders(t *testing.T) {
	t.Parallel()

	mm := minimaxProvider()
	mm.CredErr = tts.MissingCredential("minimax", "no key")
	got := New(tts.NewSet(fishProvider(), mm)).Providers()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "fishaudio" || !got[0].Configured || got[0].VoiceField != "fishAudioVoiceId" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].ID != "minimax" || got[1].Configured {
		t.Errorf("got[1] = %+v", got[1])
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

func passthrough(h http.Handler) http.Handler { return h }

func serve(t *testing.T, c *Catalog, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(c).Register(mux, passthrough)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec, body
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	failing := minimaxProvider()
	failing.ListVoicesErr = errors.New("boom")
	c := New(tts.NewSet(fishProvider(), failing))

	tests := []struct {
		path       string
		wantStatus int
		wantOK     bool
	}{
		{path: "/api/providers/fishaudio/voices", wantStatus: http.StatusOK, wantOK: true},
		{path: "/api/list-fishaudio-voices", wantStatus: http.StatusOK, wantOK: true},
		{path: "/api/list-minimax-voices", wantStatus: http.StatusInternalServerError},
		{path: "/api/providers/acme/voices", wantStatus: http.StatusNotFound},
		{path: "/api/list-elevenlabs-voices", wantStatus: http.StatusNotFound},
		{path: "/api/providers", wantStatus: http.StatusOK, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			rec, body := serve(t, c, tt.path)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ok, _ := body["success"].(bool); ok != tt.wantOK {
				t.Errorf("success = %v, want %v", body["success"], tt.wantOK)
			}
		})
	}
}

func TestHandler_UnsupportedMessage(t *testing.T) {
	t.Parallel()

	_, body := serve(t, New(tts.NewSet(fishProvider())), "/api/providers/acme/voices")
	if body["error"] != "Unsupported provider: acme" {
		t.Errorf("error = %v", body["error"])
	}
}
