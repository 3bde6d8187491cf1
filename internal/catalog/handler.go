package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/narrata/internal/synth"
)

// voiceField names the request field carrying the voice id for provider.
func voiceField(provider string) string { return synth.VoiceField(provider) }

// Handler serves the catalogue routes.
type Handler struct {
	catalog *Catalog
}

// NewHandler wraps c.
func NewHandler(c *Catalog) *Handler { return &Handler{catalog: c} }

// Register adds the catalogue routes to mux, each wrapped by authn.
func (h *Handler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	mux.Handle("GET /api/providers", authn(http.HandlerFunc(h.providers)))
	mux.Handle("GET /api/providers/{id}/voices", authn(http.HandlerFunc(h.voices)))
	for _, id := range []string{"elevenlabs", "fishaudio", "minimax"} {
		mux.Handle("GET /api/list-"+id+"-voices", authn(h.alias(id)))
	}
}

func (h *Handler) providers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "providers": h.catalog.Providers()})
}

func (h *Handler) voices(w http.ResponseWriter, r *http.Request) {
	h.serveVoices(w, r, r.PathValue("id"))
}

func (h *Handler) alias(id string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveVoices(w, r, id)
	})
}

func (h *Handler) serveVoices(w http.ResponseWriter, r *http.Request, id string) {
	l, err := h.catalog.Voices(r.Context(), id)
	if errors.Is(err, ErrUnknownProvider) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "Unsupported provider: " + id,
			"voices":  []Voice{},
		})
		return
	}
	status := http.StatusOK
	if l.VendorFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, l)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
