// Package storetest is a conformance suite run against every [store.Store]
// backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/narrata/pkg/store"
)

// Run exercises s. The store must be freshly migrated and otherwise empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	t.Run("Providers", func(t *testing.T) { testProviders(t, s) })
	t.Run("Voices", func(t *testing.T) { testVoices(t, s) })
	t.Run("Users", func(t *testing.T) { testUsers(t, s) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, s) })
	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func testProviders(t *testing.T, s store.Store) {
	got, err := s.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	if len(got) != len(store.BuiltinProviders) {
		t.Fatalf("got %d providers, want %d", len(got), len(store.BuiltinProviders))
	}
	want := map[string]int{"elevenlabs": 3000, "fishaudio": 3000, "minimax": 2500}
	for _, p := range got {
		if want[p.Name] != p.ChunkSize {
			t.Errorf("%s chunk size = %d, want %d", p.Name, p.ChunkSize, want[p.Name])
		}
		if !p.IsActive {
			t.Errorf("%s should be active", p.Name)
		}
		if p.Config["fetchVoicesUrl"] != "/api/list-"+p.Name+"-voices" {
			t.Errorf("%s config = %v", p.Name, p.Config)
		}
	}
}

func testVoices(t *testing.T, s store.Store) {
	ctx := context.Background()
	first, err := s.CreateVoice(ctx, store.Voice{VoiceID: "fa-1", Name: "Narrator", Provider: "fishaudio"})
	if err != nil {
		t.Fatalf("CreateVoice: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Errorf("created voice = %+v, want id and timestamp", first)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateVoice(ctx, store.Voice{VoiceID: "mm-1", Name: "Wise", Provider: "minimax"})
	if err != nil {
		t.Fatalf("CreateVoice: %v", err)
	}

	all, err := s.ListVoices(ctx, "")
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID || all[1].ID != first.ID {
		t.Errorf("ListVoices order = %+v, want newest first", all)
	}

	fish, err := s.ListVoices(ctx, "fishaudio")
	if err != nil {
		t.Fatalf("ListVoices(fishaudio): %v", err)
	}
	if len(fish) != 1 || fish[0].VoiceID != "fa-1" {
		t.Errorf("ListVoices(fishaudio) = %+v", fish)
	}

	name := "Storyteller"
	updated, err := s.UpdateVoice(ctx, first.ID, store.VoicePatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateVoice: %v", err)
	}
	if updated.Name != "Storyteller" || updated.VoiceID != "fa-1" || updated.Provider != "fishaudio" {
		t.Errorf("UpdateVoice = %+v, want only name changed", updated)
	}

	if _, err := s.UpdateVoice(ctx, "missing", store.VoicePatch{Name: &name}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateVoice(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteVoice(ctx, first.ID); err != nil {
		t.Fatalf("DeleteVoice: %v", err)
	}
	if _, err := s.GetVoice(ctx, first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetVoice after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteVoice(ctx, first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteVoice err = %v, want ErrNotFound", err)
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, store.User{Email: "ada@example.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.IsAdmin {
		t.Errorf("CreateUser = %+v", u)
	}
	if _, err := s.CreateUser(ctx, store.User{Email: "ada@example.com", PasswordHash: "x"}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate email err = %v, want ErrConflict", err)
	}

	byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
	if err != nil || byEmail.ID != u.ID || byEmail.PasswordHash != "hash" {
		t.Errorf("GetUserByEmail = %+v, %v", byEmail, err)
	}

	promoted, err := s.SetAdmin(ctx, u.ID, true)
	if err != nil || !promoted.IsAdmin {
		t.Errorf("SetAdmin = %+v, %v", promoted, err)
	}
	if _, err := s.SetAdmin(ctx, "missing", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetAdmin(missing) err = %v, want ErrNotFound", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("ListUsers = %+v, %v", users, err)
	}
	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUser(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetUser after delete err = %v, want ErrNotFound", err)
	}
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	old := now.Add(-48 * time.Hour)

	for _, j := range []store.Job{
		{UserID: "u1", Provider: "fishaudio", Characters: 100, Chunks: 1, CreatedAt: old},
		{UserID: "u1", Provider: "minimax", Characters: 50, Chunks: 1, CreatedAt: now.Add(-time.Hour)},
		{UserID: "u2", Provider: "fishaudio", Characters: 10, Chunks: 1, FailedChunks: 1, CreatedAt: now},
	} {
		if _, err := s.RecordJob(ctx, j); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}

	all, err := s.ListJobs(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d jobs, want 3", len(all))
	}
	if !all[0].CreatedAt.Equal(now) || all[0].UserID != "u2" || all[0].FailedChunks != 1 {
		t.Errorf("newest job = %+v", all[0])
	}

	recent, err := s.ListJobs(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListJobs(since): %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("got %d recent jobs, want 2", len(recent))
	}
}
