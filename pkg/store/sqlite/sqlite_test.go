package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/narrata/pkg/store/sqlite"
	"github.com/MrWong99/narrata/pkg/store/storetest"
)

func newTestStore(t *testing.T, name string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newTestStore(t, "narrata.db"))
}

func TestOpen_ReopenKeepsSingleSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "narrata.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Close()

	s, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	providers, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	if len(providers) != 3 {
		t.Errorf("got %d providers after reopen, want 3", len(providers))
	}
}
