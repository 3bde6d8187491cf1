package packager

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/MrWong99/narrata/internal/batch"
)

var stamp = time.Date(2025, 3, 9, 14, 5, 7, 123, time.UTC)

func completed(idx int, payload string) batch.AudioChunk {
	return batch.AudioChunk{
		ChunkIndex: idx,
		Status:     batch.StatusCompleted,
		AudioData:  base64.StdEncoding.EncodeToString([]byte(payload)),
		Filename:   "fishaudio-Narrator-chunk" + string(rune('0'+idx)) + "-1.mp3",
	}
}

func TestBundle_NothingCompleted(t *testing.T) {
	chunks := []batch.AudioChunk{
		{ChunkIndex: 0, Status: batch.StatusFailed, Error: "boom"},
		{ChunkIndex: 1, Status: batch.StatusPending},
	}
	for _, in := range [][]batch.AudioChunk{nil, chunks} {
		_, err := Bundle(in, "Fish Audio", stamp)
		if !errors.Is(err, ErrNothingToDownload) {
			t.Errorf("Bundle(%d chunks) err = %v, want ErrNothingToDownload", len(in), err)
		}
	}
}

func TestBundle_EntriesAscending(t *testing.T) {
	chunks := []batch.AudioChunk{
		completed(2, "third"),
		{ChunkIndex: 1, Status: batch.StatusFailed},
		completed(0, "first"),
		completed(3, "fourth"),
	}
	a, err := Bundle(chunks, "Fish Audio", stamp)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if a.Name != "Fish Audio_Audio_2025-03-09T14-05-07.zip" {
		t.Errorf("name = %q", a.Name)
	}

	want := []string{
		"001_fishaudio-Narrator-chunk0-1.mp3",
		"003_fishaudio-Narrator-chunk2-1.mp3",
		"004_fishaudio-Narrator-chunk3-1.mp3",
	}
	if !slices.Equal(a.Entries, want) {
		t.Errorf("entries = %v, want %v", a.Entries, want)
	}

	zr, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("archive has %d files, want 3", len(zr.File))
	}
	payloads := []string{"first", "third", "fourth"}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Errorf("file %d = %q, want %q", i, f.Name, want[i])
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if string(got) != payloads[i] {
			t.Errorf("%s = %q, want %q", f.Name, got, payloads[i])
		}
	}
}

func TestBundle_ThousandChunksSortInReadingOrder(t *testing.T) {
	chunks := make([]batch.AudioChunk, 1000)
	for i := range chunks {
		chunks[i] = batch.AudioChunk{ChunkIndex: i, Status: batch.StatusFailed}
	}
	for _, i := range []int{8, 99, 100, 999} {
		chunks[i] = completed(i, "x")
		chunks[i].Filename = "a.mp3"
	}
	a, err := Bundle(chunks, "MiniMax", stamp)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	want := []string{"0009_a.mp3", "0100_a.mp3", "0101_a.mp3", "1000_a.mp3"}
	if !slices.Equal(a.Entries, want) {
		t.Errorf("entries = %v, want %v", a.Entries, want)
	}
	if !slices.IsSorted(a.Entries) {
		t.Errorf("entries %v do not sort lexically in chunk order", a.Entries)
	}
}

func TestPadWidth(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 3}, {1, 3}, {999, 3}, {1000, 4}, {12345, 5},
	}
	for _, tt := range tests {
		chunks := make([]batch.AudioChunk, tt.n)
		for i := range chunks {
			chunks[i].ChunkIndex = i
		}
		if got := PadWidth(chunks); got != tt.want {
			t.Errorf("PadWidth(%d chunks) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestBundle_SkipsUndecodable(t *testing.T) {
	bad := completed(1, "x")
	bad.AudioData = "%%%not-base64"
	a, err := Bundle([]batch.AudioChunk{completed(0, "ok"), bad}, "MiniMax", stamp)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if len(a.Entries) != 1 || !slices.Equal(a.Skipped, []int{1}) {
		t.Errorf("entries = %v skipped = %v", a.Entries, a.Skipped)
	}

	_, err = Bundle([]batch.AudioChunk{bad}, "MiniMax", stamp)
	if !errors.Is(err, ErrNothingToDownload) {
		t.Errorf("only undecodable chunks: err = %v, want ErrNothingToDownload", err)
	}
}

func TestSingle(t *testing.T) {
	name, data, err := Single(completed(4, "mp3"))
	if err != nil {
		t.Fatalf("Single: %v", err)
	}
	if name != "fishaudio-Narrator-chunk4-1.mp3" || string(data) != "mp3" {
		t.Errorf("Single = %q, %q", name, data)
	}

	_, _, err = Single(batch.AudioChunk{ChunkIndex: 1, Status: batch.StatusGenerating})
	if !errors.Is(err, ErrNotCompleted) {
		t.Errorf("err = %v, want ErrNotCompleted", err)
	}
}

func TestArchiveName(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	got := ArchiveName(" ElevenLabs ", time.Date(2024, 12, 31, 23, 30, 0, 0, loc))
	if got != "ElevenLabs_Audio_2024-12-31T22-30-00.zip" {
		t.Errorf("ArchiveName = %q", got)
	}
	if got := ArchiveName("", stamp); got != "Narrata_Audio_2025-03-09T14-05-07.zip" {
		t.Errorf("empty name = %q", got)
	}
}
