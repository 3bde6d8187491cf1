// Package packager turns completed audio chunks into downloadable files: a
// single MP3 for one chunk, or a ZIP archive holding every completed chunk in
// reading order.
package packager

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/MrWong99/narrata/internal/batch"
)

// ErrNothingToDownload is returned when no chunk has completed.
var ErrNothingToDownload = errors.New("packager: no completed audio chunks")

// ErrNotCompleted is returned by [Single] for a chunk without audio.
var ErrNotCompleted = errors.New("packager: chunk has not completed")

// archiveTimeLayout is an ISO-8601 timestamp truncated to seconds with the
// colons replaced so it is safe in file names.
const archiveTimeLayout = "2006-01-02T15-04-05"

// Archive is a finished ZIP bundle.
type Archive struct {
	// Name is the suggested download file name.
	Name string

	// Data is the encoded ZIP file.
	Data []byte

	// Entries lists the entry names in archive order.
	Entries []string

	// Skipped lists the chunk indexes whose payload could not be decoded.
	Skipped []int
}

// Single decodes the audio of one completed chunk.
func Single(c batch.AudioChunk) (filename string, data []byte, err error) {
	if c.Status != batch.StatusCompleted || c.AudioData == "" {
		return "", nil, fmt.Errorf("%w: chunk %d is %s", ErrNotCompleted, c.ChunkIndex, c.Status)
	}
	data, err = base64.StdEncoding.DecodeString(c.AudioData)
	if err != nil {
		return "", nil, fmt.Errorf("packager: decode chunk %d: %w", c.ChunkIndex, err)
	}
	return chunkFilename(c), data, nil
}

// Bundle packs every completed chunk into a ZIP archive, ascending by chunk
// index. Entry names are [NumberedName]s padded for the whole chunk list, so
// they sort in reading order. Chunks whose payload fails to decode are
// skipped. displayName
// prefixes the archive name; now stamps it.
func Bundle(chunks []batch.AudioChunk, displayName string, now time.Time) (*Archive, error) {
	done := make([]batch.AudioChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Status == batch.StatusCompleted && c.AudioData != "" {
			done = append(done, c)
		}
	}
	if len(done) == 0 {
		return nil, ErrNothingToDownload
	}
	slices.SortFunc(done, func(a, b batch.AudioChunk) int { return a.ChunkIndex - b.ChunkIndex })

	width := PadWidth(chunks)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	a := &Archive{Name: ArchiveName(displayName, now)}

	for _, c := range done {
		data, err := base64.StdEncoding.DecodeString(c.AudioData)
		if err != nil {
			slog.Warn("skipping chunk with undecodable audio", "chunk_index", c.ChunkIndex, "err", err)
			a.Skipped = append(a.Skipped, c.ChunkIndex)
			continue
		}
		name := NumberedName(c, width)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return nil, fmt.Errorf("packager: create entry %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("packager: write entry %s: %w", name, err)
		}
		a.Entries = append(a.Entries, name)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("packager: close archive: %w", err)
	}
	if len(a.Entries) == 0 {
		return nil, ErrNothingToDownload
	}
	a.Data = buf.Bytes()
	return a, nil
}

// ArchiveName returns "<displayName>_Audio_<YYYY-MM-DDTHH-MM-SS>.zip" in UTC.
func ArchiveName(displayName string, now time.Time) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "Narrata"
	}
	return fmt.Sprintf("%s_Audio_%s.zip", name, now.UTC().Format(archiveTimeLayout))
}

// PadWidth returns the digit count used to number chunks: at least three, and
// enough for the highest 1-based chunk number in chunks.
func PadWidth(chunks []batch.AudioChunk) int {
	highest := len(chunks)
	for _, c := range chunks {
		highest = max(highest, c.ChunkIndex+1)
	}
	return max(3, len(strconv.Itoa(highest)))
}

// NumberedName returns "<NNN>_<filename>" for c, where NNN is the 1-based
// chunk number zero-padded to width digits.
func NumberedName(c batch.AudioChunk, width int) string {
	return fmt.Sprintf("%0*d_%s", width, c.ChunkIndex+1, chunkFilename(c))
}

func chunkFilename(c batch.AudioChunk) string {
	if c.Filename != "" {
		return c.Filename
	}
	return fmt.Sprintf("chunk%d.mp3", c.ChunkIndex)
}
