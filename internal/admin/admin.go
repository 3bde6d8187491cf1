// Package admin serves the administration API: custom voices, the provider
// table, user accounts and usage statistics. Every route except the custom
// voice listing requires an administrator.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/narrata/internal/auth"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/store"
)

// maxBodyBytes limits admin request bodies.
const maxBodyBytes = 64 << 10

// Handler serves the admin routes.
type Handler struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the time source used for statistics.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler backed by st.
func New(st store.Store, opts ...Option) *Handler {
	h := &Handler{store: st, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the admin routes to mux. authn must authenticate the caller;
// admin must additionally require the admin role.
func (h *Handler) Register(mux *http.ServeMux, authn, admin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/voices", authn(http.HandlerFunc(h.listCustomVoices)))

	mux.Handle("GET /api/admin/voices", admin(http.HandlerFunc(h.listVoices)))
	mux.Handle("POST /api/admin/voices", admin(http.HandlerFunc(h.createVoice)))
	mux.Handle("PATCH /api/admin/voices/{id}", admin(http.HandlerFunc(h.updateVoice)))
	mux.Handle("DELETE /api/admin/voices/{id}", admin(http.HandlerFunc(h.deleteVoice)))

	mux.Handle("GET /api/admin/providers", admin(http.HandlerFunc(h.listProviders)))

	mux.Handle("GET /api/admin/users", admin(http.HandlerFunc(h.listUsers)))
	mux.Handle("POST /api/admin/users", admin(http.HandlerFunc(h.createUser)))
	mux.Handle("PATCH /api/admin/users/{id}", admin(http.HandlerFunc(h.updateUser)))
	mux.Handle("DELETE /api/admin/users/{id}", admin(http.HandlerFunc(h.deleteUser)))

	mux.Handle("GET /api/admin/jobs", admin(http.HandlerFunc(h.jobStats)))
}

// ---- voices ----

func (h *Handler) listCustomVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.store.ListVoices(r.Context(), "")
	if err != nil {
		h.fail(w, r, "list custom voices", err, map[string]any{"error": "Failed to fetch custom voices"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voices": voices})
}

func (h *Handler) listVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.store.ListVoices(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		h.fail(w, r, "list voices", err, failure("Failed to fetch voices"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voices": voices})
}

type voiceInput struct {
	VoiceID     string `json:"voice_id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
}

func (h *Handler) createVoice(w http.ResponseWriter, r *http.Request) {
	var in voiceInput
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("Invalid JSON body"))
		return
	}
	for _, f := range []struct{ name, value string }{
		{"voice_id", in.VoiceID},
		{"name", in.Name},
		{"provider", in.Provider},
	} {
		if strings.TrimSpace(f.value) == "" {
			writeJSON(w, http.StatusBadRequest, failure("Missing required field: "+f.name))
			return
		}
	}

	v, err := h.store.CreateVoice(r.Context(), store.Voice{
		VoiceID:     in.VoiceID,
		Name:        in.Name,
		Provider:    in.Provider,
		Description: in.Description,
	})
	if err != nil {
		h.fail(w, r, "create voice", err, failure("Failed to create voice"))
		return
	}
	observe.Logger(r.Context()).Info("custom voice created", "id", v.ID, "provider", v.Provider, "by", auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voice": v})
}

func (h *Handler) updateVoice(w http.ResponseWriter, r *http.Request) {
	var p store.VoicePatch
	if err := decode(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("Invalid JSON body"))
		return
	}
	v, err := h.store.UpdateVoice(r.Context(), r.PathValue("id"), p)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, failure("Voice not found"))
		return
	}
	if err != nil {
		h.fail(w, r, "update voice", err, failure("Failed to update voice"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voice": v})
}

func (h *Handler) deleteVoice(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteVoice(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, failure("Voice not found"))
		return
	}
	if err != nil {
		h.fail(w, r, "delete voice", err, failure("Failed to delete voice"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Voice deleted successfully"})
}

// ---- providers ----

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		h.fail(w, r, "list providers", err, failure("Failed to fetch providers"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "providers": providers})
}

// ---- users ----

type profile struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, "list users", err, map[string]any{"error": "Internal server error"})
		return
	}
	profiles := make([]profile, len(users))
	for i, u := range users {
		profiles[i] = profile{UserID: u.ID, IsAdmin: u.IsAdmin}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "profiles": profiles})
}

type userInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Email and password are required"})
		return
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		h.fail(w, r, "hash password", err, map[string]any{"error": "Internal server error"})
		return
	}
	u, err := h.store.CreateUser(r.Context(), store.User{Email: in.Email, PasswordHash: hash, IsAdmin: in.IsAdmin})
	if errors.Is(err, store.ErrConflict) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "A user with this email already exists"})
		return
	}
	if err != nil {
		h.fail(w, r, "create user", err, map[string]any{"error": "Internal server error"})
		return
	}
	observe.Logger(r.Context()).Info("user created", "user_id", u.ID, "admin", u.IsAdmin, "by", auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"message": "User created successfully", "user": u})
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IsAdmin *bool `json:"is_admin"`
	}
	if err := decode(r, &in); err != nil || in.IsAdmin == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing required field: is_admin"})
		return
	}
	id := r.PathValue("id")
	if id == auth.UserID(r.Context()) && !*in.IsAdmin {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Cannot remove your own admin role"})
		return
	}
	u, err := h.store.SetAdmin(r.Context(), id, *in.IsAdmin)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
		return
	}
	if err != nil {
		h.fail(w, r, "update user", err, map[string]any{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User updated successfully", "user": u})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == auth.UserID(r.Context()) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Cannot delete your own account"})
		return
	}
	err := h.store.DeleteUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
		return
	}
	if err != nil {
		h.fail(w, r, "delete user", err, map[string]any{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User deleted successfully"})
}

// ---- jobs ----

func (h *Handler) jobStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = PeriodWeek
	}
	jobs, err := h.store.ListJobs(r.Context(), time.Time{})
	if err != nil {
		h.fail(w, r, "list jobs", err, map[string]any{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, ComputeStats(jobs, period, h.now()))
}

// ---- helpers ----

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error, body map[string]any) {
	observe.Logger(r.Context()).Error("admin: "+op+" failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, body)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
