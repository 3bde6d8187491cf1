package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/narrata/internal/auth"
	"github.com/MrWong99/narrata/pkg/store"
	"github.com/MrWong99/narrata/pkg/store/mock"
)

type fixture struct {
	st    *mock.Store
	mux   *http.ServeMux
	admin store.User
	user  store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := mock.New()
	ctx := context.Background()
	admin, err := st.CreateUser(ctx, store.User{Email: "admin@example.com", PasswordHash: "x", IsAdmin: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	user, err := st.CreateUser(ctx, store.User{Email: "user@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// authn trusts the X-Test-User header so tests skip bcrypt.
	authn := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Test-User")
			if id == "" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
				return
			}
			u, err := st.GetUser(r.Context(), id)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
		})
	}
	adminOnly := func(next http.Handler) http.Handler { return authn(auth.RequireAdmin(next)) }

	mux := http.NewServeMux()
	New(st, WithClock(func() time.Time { return statsNow })).Register(mux, authn, adminOnly)
	return &fixture{st: st, mux: mux, admin: admin, user: user}
}

func (f *fixture) do(t *testing.T, as *store.User, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != nil {
		req.Header.Set("X-Test-User", as.ID)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&out)
	return rec.Code, out
}

func TestGuards(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, nil, http.MethodGet, "/api/admin/voices", nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", code)
	}
	code, body := f.do(t, &f.user, http.MethodGet, "/api/admin/voices", nil)
	if code != http.StatusForbidden || body["error"] != "Admin access required" {
		t.Errorf("non-admin = %d %v", code, body)
	}
	if code, _ := f.do(t, &f.user, http.MethodGet, "/api/voices", nil); code != http.StatusOK {
		t.Errorf("custom voices for user = %d, want 200", code)
	}
}

func TestVoicesCRUD(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, &f.admin, http.MethodPost, "/api/admin/voices",
		map[string]string{"voice_id": "abc", "provider": "fishaudio"})
	if code != http.StatusBadRequest || body["error"] != "Missing required field: name" {
		t.Errorf("missing name = %d %v", code, body)
	}

	code, body = f.do(t, &f.admin, http.MethodPost, "/api/admin/voices",
		map[string]string{"voice_id": "abc", "name": "Narrator", "provider": "fishaudio"})
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("create = %d %v", code, body)
	}
	id := body["voice"].(map[string]any)["id"].(string)

	code, body = f.do(t, &f.admin, http.MethodPatch, "/api/admin/voices/"+id, map[string]string{"name": "Storyteller"})
	if code != http.StatusOK {
		t.Fatalf("patch = %d %v", code, body)
	}
	v := body["voice"].(map[string]any)
	if v["name"] != "Storyteller" || v["voice_id"] != "abc" {
		t.Errorf("patched voice = %v", v)
	}

	code, body = f.do(t, &f.user, http.MethodGet, "/api/voices", nil)
	if code != http.StatusOK || len(body["voices"].([]any)) != 1 {
		t.Errorf("list = %d %v", code, body)
	}

	if code, _ := f.do(t, &f.admin, http.MethodDelete, "/api/admin/voices/"+id, nil); code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
	if code, _ := f.do(t, &f.admin, http.MethodDelete, "/api/admin/voices/"+id, nil); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
}

func TestProviders(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, &f.admin, http.MethodGet, "/api/admin/providers", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	providers := body["providers"].([]any)
	if len(providers) != 3 {
		t.Fatalf("providers = %d, want 3", len(providers))
	}
	mm := providers[2].(map[string]any)
	if mm["name"] != "minimax" || mm["chunk_size"] != float64(2500) {
		t.Errorf("minimax row = %v", mm)
	}
}

func TestUsers(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, &f.admin, http.MethodPost, "/api/admin/users", map[string]any{"email": "new@example.com"})
	if code != http.StatusBadRequest || body["error"] != "Email and password are required" {
		t.Errorf("missing password = %d %v", code, body)
	}

	code, body = f.do(t, &f.admin, http.MethodPost, "/api/admin/users",
		map[string]any{"email": "new@example.com", "password": "pw", "isAdmin": true})
	if code != http.StatusOK {
		t.Fatalf("create = %d %v", code, body)
	}
	created := body["user"].(map[string]any)
	if created["is_admin"] != true {
		t.Errorf("created user = %v", created)
	}
	if _, ok := created["PasswordHash"]; ok {
		t.Error("password hash must not be serialised")
	}
	u, _ := f.st.GetUserByEmail(context.Background(), "new@example.com")
	if _, ok := auth.New(f.st).Verify(context.Background(), "new@example.com", "pw"); !ok || u.PasswordHash == "pw" {
		t.Error("password should be stored as a bcrypt hash")
	}

	code, _ = f.do(t, &f.admin, http.MethodPost, "/api/admin/users", map[string]any{"email": "new@example.com", "password": "x"})
	if code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", code)
	}

	code, body = f.do(t, &f.admin, http.MethodGet, "/api/admin/users", nil)
	if code != http.StatusOK || len(body["users"].([]any)) != 3 || len(body["profiles"].([]any)) != 3 {
		t.Errorf("list = %d %v", code, body)
	}

	code, body = f.do(t, &f.admin, http.MethodPatch, "/api/admin/users/"+f.user.ID, map[string]any{"is_admin": true})
	if code != http.StatusOK || body["user"].(map[string]any)["is_admin"] != true {
		t.Errorf("promote = %d %v", code, body)
	}

	code, body = f.do(t, &f.admin, http.MethodDelete, "/api/admin/users/"+f.admin.ID, nil)
	if code != http.StatusBadRequest || body["error"] != "Cannot delete your own account" {
		t.Errorf("self delete = %d %v", code, body)
	}

	if code, _ := f.do(t, &f.admin, http.MethodDelete, "/api/admin/users/"+u.ID, nil); code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
}

func TestJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, j := range []store.Job{
		job(f.user.ID, "fishaudio", 300, time.Hour),
		job(f.user.ID, "minimax", 200, 2*time.Hour),
	} {
		if _, err := f.st.RecordJob(ctx, j); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}

	code, body := f.do(t, &f.admin, http.MethodGet, "/api/admin/jobs?period=day", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["period"] != "day" || body["total_users_with_jobs"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if n := len(body["time_series"].([]any)); n != 24 {
		t.Errorf("time series = %d, want 24", n)
	}
	us := body["job_stats"].(map[string]any)[f.user.ID].(map[string]any)
	if us["total_characters"] != float64(500) || us["total_jobs"] != float64(2) {
		t.Errorf("user stats = %v", us)
	}

	_, body = f.do(t, &f.admin, http.MethodGet, "/api/admin/jobs", nil)
	if body["period"] != "week" {
		t.Errorf("default period = %v, want week", body["period"])
	}
}
