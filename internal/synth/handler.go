package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/narrata/internal/observe"
)

// maxRequestBody caps the JSON request body. Provider chunk limits are a few
// thousand characters, so this leaves ample room.
const maxRequestBody = 1 << 20

// anonymousUser is recorded when neither the request nor the caller names a
// user.
const anonymousUser = "unknown_user"

// Handler serves POST /api/generate-audio.
type Handler struct {
	svc    *Service
	userID func(context.Context) string
}

// NewHandler returns a Handler backed by svc. userID resolves the
// authenticated caller; it may be nil.
func NewHandler(svc *Service, userID func(context.Context) string) *Handler {
	return &Handler{svc: svc, userID: userID}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "Invalid JSON body: " + err.Error()})
		return
	}
	if req.UserID == "" && h.userID != nil {
		req.UserID = h.userID(r.Context())
	}
	if req.UserID == "" {
		req.UserID = anonymousUser
	}

	observe.Logger(r.Context()).Info("single chunk generation request",
		"provider", req.Provider,
		"voice", req.Voice,
		"chunk_index", req.ChunkIndex,
		"text_length", len(req.Text),
		"user_id", req.UserID,
	)

	resp, err := h.svc.Synthesize(r.Context(), req)
	if err != nil {
		status, msg := ErrorStatus(err)
		writeJSON(w, status, Response{Error: msg, ChunkIndex: req.ChunkIndex})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ErrorStatus maps a [Service.Synthesize] error to the HTTP status and the
// user-facing message the endpoint answers with.
func ErrorStatus(err error) (int, string) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Status, ve.Message
	}
	msg := "Failed to generate audio: " + err.Error()
	if errors.Is(err, ErrCircuitOpen) {
		return http.StatusServiceUnavailable, msg
	}
	return http.StatusInternalServerError, msg
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
