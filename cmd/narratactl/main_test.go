package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/narrata/internal/catalog"
	"github.com/MrWong99/narrata/internal/synth"
	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// fakeServer stands in for a Narrata server. Chunks whose text contains
// "FAIL" are rejected.
type fakeServer struct {
	mu       sync.Mutex
	requests []synth.Request
	auth     []string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/providers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "providers": []catalog.ProviderSummary{
			{ID: "fishaudio", DisplayName: "Fish Audio", ChunkSize: 20, VoiceField: "fishAudioVoiceId", Configured: true},
			{ID: "minimax", DisplayName: "MiniMax", ChunkSize: 2500, VoiceField: "minimaxVoiceId"},
		}})
	})
	mux.HandleFunc("GET /api/providers/{id}/voices", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "fishaudio" {
			writeJSON(w, http.StatusNotFound, catalog.Listing{Error: "Unsupported provider: " + r.PathValue("id")})
			return
		}
		writeJSON(w, http.StatusOK, catalog.Listing{
			Success: true,
			Voices:  []catalog.Voice{{VoiceProfile: tts.VoiceProfile{ID: "ref-1", Name: "Narrator", Description: "Calm"}}},
			Models:  []tts.Model{{ID: "speech-1.6", Name: "Speech 1.6", Pricing: "$15/M"}},
		})
	})
	mux.HandleFunc("POST /api/generate-audio", func(w http.ResponseWriter, r *http.Request) {
		var req synth.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, synth.Response{Error: "Invalid JSON body"})
			return
		}
		user, _, _ := r.BasicAuth()
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, user)
		f.mu.Unlock()

		if strings.Contains(req.Text, "FAIL") {
			writeJSON(w, http.StatusInternalServerError, synth.Response{ChunkIndex: req.ChunkIndex, Error: "Failed to generate audio: vendor said no"})
			return
		}
		writeJSON(w, http.StatusOK, synth.Response{
			Success:    true,
			AudioData:  base64.StdEncoding.EncodeToString([]byte("mp3:" + req.Text)),
			ChunkIndex: req.ChunkIndex,
			Filename:   "chunk.mp3",
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func execute(t *testing.T, srvURL, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", srvURL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func newFake(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func TestChunkCommand(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "http://unused", "One two three. Four five six.", "chunk", "-", "--max", "16")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	for _, want := range []string{"INDEX", "One two three.", "Four five six.", "2 chunks"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestChunkCommand_EmptyInput(t *testing.T) {
	t.Parallel()

	if _, _, err := execute(t, "http://unused", "   ", "chunk", "-"); err == nil || err.Error() != "Missing required field: text" {
		t.Errorf("err = %v, want the missing text error", err)
	}
}

func TestVoicesCommand(t *testing.T) {
	t.Parallel()

	_, srv := newFake(t)
	out, _, err := execute(t, srv.URL, "", "voices", "fishaudio")
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	for _, want := range []string{"ref-1", "Narrator", "speech-1.6", "$15/M"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	_, _, err = execute(t, srv.URL, "", "voices", "acme")
	if err == nil || err.Error() != "Unsupported provider: acme" {
		t.Errorf("unknown provider err = %v", err)
	}
}

func TestGenerateCommand_WritesCompletedChunks(t *testing.T) {
	t.Parallel()

	f, srv := newFake(t)
	dir := t.TempDir()
	text := "One two three. FAIL five six. Seven eight."
	out, _, err := execute(t, srv.URL, text,
		"generate", "-", "--voice-id", "ref-1", "--voice", "Narrator",
		"--out", dir, "--batch-size", "2", "--cooldown", "0", "-u", "me@example.com", "-p", "pw")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "chunk 1 failed: Failed to generate audio: vendor said no") {
		t.Errorf("output does not report the failed chunk:\n%s", out)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != "001_chunk.mp3" || names[1] != "003_chunk.mp3" {
		t.Fatalf("files = %v, want 001_chunk.mp3 and 003_chunk.mp3", names)
	}
	data, err := os.ReadFile(filepath.Join(dir, "001_chunk.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "mp3:One two three." {
		t.Errorf("chunk 0 = %q", data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(f.requests))
	}
	for i, req := range f.requests {
		if req.FishAudioVoiceID != "ref-1" || req.Provider != "fishaudio" {
			t.Errorf("request %d = %+v, want the fishaudio voice field set", i, req)
		}
		if f.auth[i] != "me@example.com" {
			t.Errorf("request %d user = %q", i, f.auth[i])
		}
	}
}

func TestGenerateCommand_Bundle(t *testing.T) {
	t.Parallel()

	_, srv := newFake(t)
	dir := t.TempDir()
	out, _, err := execute(t, srv.URL, "One two three. Four five six.",
		"generate", "-", "--voice-id", "ref-1", "--out", dir, "--cooldown", "0", "--bundle")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "Fish Audio_Audio_*.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("archives = %v, want one", matches)
	}
	if !strings.Contains(out, "(2 files,") {
		t.Errorf("output = %q, want the entry count", out)
	}
}

func TestGenerateCommand_Errors(t *testing.T) {
	t.Parallel()

	_, srv := newFake(t)
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown provider", args: []string{"--provider", "acme"}, wantErr: "Unsupported provider: acme"},
		{name: "unconfigured provider", args: []string{"--provider", "minimax"}, wantErr: "MiniMax is not configured on the server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"generate", "-", "--voice-id", "v", "--out", t.TempDir()}, tt.args...)
			_, _, err := execute(t, srv.URL, "Hello.", args...)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
