package store

import (
	"testing"

	"github.com/google/uuid"
)

func TestVoicePatch_Apply(t *testing.T) {
	t.Parallel()

	v := Voice{VoiceID: "old", Name: "Old", Provider: "fishaudio", Description: "keep"}
	name := "New"
	provider := "minimax"
	VoicePatch{Name: &name, Provider: &provider}.Apply(&v)

	if v.Name != "New" || v.Provider != "minimax" {
		t.Errorf("patched fields = %q/%q", v.Name, v.Provider)
	}
	if v.VoiceID != "old" || v.Description != "keep" {
		t.Errorf("untouched fields changed: %+v", v)
	}
}

func TestNewID(t *testing.T) {
	t.Parallel()

	a, b := NewID(), NewID()
	if a == b {
		t.Fatalf("NewID returned %q twice", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("NewID = %q, not a UUID: %v", a, err)
	}
}
