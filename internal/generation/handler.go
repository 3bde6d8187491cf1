package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/narrata/internal/batch"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/internal/packager"
	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// maxRequestBody caps the JSON body of a create request. Texts for long-form
// generation can be large.
const maxRequestBody = 8 << 20

// eventWriteTimeout bounds a single snapshot write to a websocket client.
const eventWriteTimeout = 10 * time.Second

// Handler serves the /api/sessions routes. A session is visible only to the
// user who created it and to administrators; anyone else gets 404.
type Handler struct {
	m       *Manager
	userID  func(context.Context) string
	isAdmin func(context.Context) bool
	now     func() time.Time
}

// NewHandler returns a Handler for m. userID resolves the authenticated
// caller and isAdmin reports whether the caller may act on every session.
// Either may be nil.
func NewHandler(m *Manager, userID func(context.Context) string, isAdmin func(context.Context) bool) *Handler {
	return &Handler{m: m, userID: userID, isAdmin: isAdmin, now: time.Now}
}

// Register adds the session routes to mux, each wrapped by authn.
func (h *Handler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, authn(fn)) }
	route("POST /api/sessions", h.create)
	route("GET /api/sessions/{id}", h.get)
	route("DELETE /api/sessions/{id}", h.delete)
	route("POST /api/sessions/{id}/pause", h.pause)
	route("POST /api/sessions/{id}/resume", h.resume)
	route("GET /api/sessions/{id}/chunks/{index}/audio", h.chunkAudio)
	route("GET /api/sessions/{id}/bundle", h.bundle)
	route("GET /api/sessions/{id}/events", h.events)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}
	if h.userID != nil {
		req.UserID = h.userID(r.Context())
	}
	s, err := h.m.Create(r.Context(), req)
	if err != nil {
		status, msg := errorStatus(err, req.Provider)
		if status >= http.StatusInternalServerError {
			observe.Logger(r.Context()).Error("create generation session", "err", err)
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.m.Delete(r.Context(), s.ID()); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.lookup(w, r); !ok {
		return
	}
	s, err := h.m.Pause(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.lookup(w, r); !ok {
		return
	}
	s, err := h.m.Resume(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) chunkAudio(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}
	c, ok := s.Chunk(index)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Chunk %d not found", index))
		return
	}
	name, data, err := packager.Single(c)
	if errors.Is(err, packager.ErrNotCompleted) {
		writeError(w, http.StatusConflict, fmt.Sprintf("Chunk %d has no audio yet", index))
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("decode chunk audio", "session_id", s.ID(), "chunk", index, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to decode audio")
		return
	}
	writeFile(w, "audio/mpeg", name, data)
}

func (h *Handler) bundle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	display := s.Template().Provider
	if p, ok := h.m.providers.Get(display); ok {
		display = p.Info().DisplayName
	}
	a, err := packager.Bundle(s.Chunks(), display, h.now())
	if errors.Is(err, packager.ErrNothingToDownload) {
		writeError(w, http.StatusConflict, "No completed audio chunks to download")
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("build bundle", "session_id", s.ID(), "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to build archive")
		return
	}
	writeFile(w, "application/zip", a.Name, a.Data)
}

// events streams snapshots over a websocket until the run finishes or the
// client goes away.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, snap)
			cancel()
			if err != nil {
				observe.Logger(r.Context()).Debug("session events write failed", "session_id", s.ID(), "err", err)
				return
			}
			if snap.State == batch.StateCompleted || snap.State == batch.StateAborted {
				conn.Close(websocket.StatusNormalClosure, string(snap.State))
				return
			}
		}
	}
}

// lookup resolves the session of the request path. Sessions owned by another
// user are reported as not found unless the caller is an administrator.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*batch.Session, bool) {
	id := r.PathValue("id")
	s, err := h.m.Get(id)
	if err == nil && !h.mayAccess(r.Context(), id) {
		err = ErrNotFound
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return s, true
}

func (h *Handler) mayAccess(ctx context.Context, id string) bool {
	if h.isAdmin != nil && h.isAdmin(ctx) {
		return true
	}
	owner, err := h.m.Owner(id)
	if err != nil {
		return false
	}
	caller := ""
	if h.userID != nil {
		caller = h.userID(ctx)
	}
	return owner == caller
}

// errorStatus maps a Create error to an HTTP status and message.
func errorStatus(err error, provider string) (int, string) {
	switch {
	case errors.Is(err, ErrEmptyText):
		return http.StatusBadRequest, "Missing required field: text"
	case errors.Is(err, ErrUnknownProvider):
		return http.StatusBadRequest, "Unsupported provider: " + provider
	case errors.Is(err, tts.ErrMissingCredential):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrTooManySessions):
		return http.StatusTooManyRequests, "Too many generation sessions, try again later"
	default:
		return http.StatusInternalServerError, "Failed to start generation"
	}
}

func writeFile(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
