package batch

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/narrata/internal/chunker"
	"github.com/MrWong99/narrata/internal/synth"
)

// ChunkStatus is the lifecycle state of one chunk.
type ChunkStatus string

const (
	StatusPending    ChunkStatus = "pending"
	StatusGenerating ChunkStatus = "generating"
	StatusCompleted  ChunkStatus = "completed"
	StatusFailed     ChunkStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s ChunkStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunState is the lifecycle state of a whole generation run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StatePaused    RunState = "paused"
	StateCompleted RunState = "completed"
	StateAborted   RunState = "aborted"
)

// AudioChunk is the synthesis result slot for one text chunk.
type AudioChunk struct {
	ChunkIndex int `json:"chunkIndex"`

	// AudioData is the base64-encoded audio. Snapshots leave it empty; use
	// [Session.Chunks] to read payloads.
	AudioData string      `json:"audioData,omitempty"`
	Duration  int         `json:"duration"`
	Filename  string      `json:"filename,omitempty"`
	Size      int         `json:"size"`
	Status    ChunkStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	Text      string      `json:"text"`
}

// Progress holds the aggregate counters of a run.
type Progress struct {
	TotalBatches     int `json:"totalBatches"`
	CompletedBatches int `json:"completedBatches"`
	CurrentBatch     int `json:"currentBatch"`
	TotalChunks      int `json:"totalChunks"`
	CompletedChunks  int `json:"completedChunks"`
	FailedChunks     int `json:"failedChunks"`
}

// Snapshot is an immutable copy of a session's observable state.
type Snapshot struct {
	ID              string       `json:"id"`
	Provider        string       `json:"provider"`
	Voice           string       `json:"voice,omitempty"`
	State           RunState     `json:"state"`
	Paused          bool         `json:"paused"`
	Progress        Progress     `json:"progress"`
	CooldownSeconds int          `json:"cooldownSeconds"`
	Message         string       `json:"message,omitempty"`
	Chunks          []AudioChunk `json:"chunks"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
}

// Session is the mutable state of one generation run: the chunk list, the
// per-chunk results, the progress counters, and the pause flag the
// [Orchestrator] polls. It is safe for concurrent use.
type Session struct {
	id       string
	template synth.Request
	chunks   []chunker.TextChunk

	mu           sync.Mutex
	audio        []AudioChunk
	slot         map[int]int
	progress     Progress
	state        RunState
	pauseFlag    bool
	running      bool
	initialized  bool
	resumeQueued bool
	dispatched   bool
	batches      [][]chunker.TextChunk
	nextBatch    int
	cooldown     time.Duration
	message      string
	createdAt    time.Time
	updatedAt    time.Time
	finishedAt   time.Time
	subs         map[int]chan Snapshot
	nextSub      int
}

// NewSession creates an idle session. template carries the provider, voice
// and model used for every chunk; its Text and ChunkIndex are ignored.
func NewSession(id string, template synth.Request, chunks []chunker.TextChunk) *Session {
	now := time.Now()
	s := &Session{
		id:        id,
		template:  template,
		chunks:    slices.Clone(chunks),
		slot:      make(map[int]int, len(chunks)),
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
		subs:      make(map[int]chan Snapshot),
	}
	s.audio = make([]AudioChunk, len(chunks))
	for i, c := range chunks {
		s.slot[c.Index] = i
		s.audio[i] = AudioChunk{ChunkIndex: c.Index, Status: StatusPending, Text: c.Text}
	}
	s.progress.TotalChunks = len(chunks)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Template returns the request template shared by every chunk.
func (s *Session) Template() synth.Request { return s.template }

// TextChunks returns the chunks this session synthesises.
func (s *Session) TextChunks() []chunker.TextChunk { return slices.Clone(s.chunks) }

// Pause requests that the run stops before its next batch. A batch already in
// flight is allowed to finish.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseFlag || s.state == StateCompleted || s.state == StateAborted {
		return
	}
	s.pauseFlag = true
	s.message = "Generation paused"
	s.changedLocked()
}

// Resume clears the pause flag. It reports whether the session is waiting to
// be run again, which is the case when a pause was already honoured. Only the
// first Resume after a pause reports true; later calls before the next run
// starts report false.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	relaunch := s.state == StatePaused && !s.resumeQueued
	if !relaunch && !s.pauseFlag {
		return false
	}
	if relaunch {
		s.resumeQueued = true
	}
	s.pauseFlag = false
	s.message = "Generation resumed"
	s.changedLocked()
	return relaunch
}

// Snapshot returns a copy of the observable state without audio payloads.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Chunks returns a copy of every result slot, including audio payloads.
func (s *Session) Chunks() []AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audio)
}

// Chunk returns the result slot of chunkIndex.
func (s *Session) Chunk(chunkIndex int) (AudioChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.slot[chunkIndex]
	if !ok {
		return AudioChunk{}, false
	}
	return s.audio[i], true
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only see the most recent snapshot. The returned
// function unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Session) snapshotLocked() Snapshot {
	chunks := make([]AudioChunk, len(s.audio))
	for i, c := range s.audio {
		c.AudioData = ""
		chunks[i] = c
	}
	snap := Snapshot{
		ID:              s.id,
		Provider:        s.template.Provider,
		Voice:           s.template.Voice,
		State:           s.state,
		Paused:          s.pauseFlag || s.state == StatePaused,
		Progress:        s.progress,
		CooldownSeconds: int((s.cooldown + time.Second - 1) / time.Second),
		Message:         s.message,
		Chunks:          chunks,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
	}
	if !s.finishedAt.IsZero() {
		f := s.finishedAt
		snap.FinishedAt = &f
	}
	return snap
}

// changedLocked stamps the session and publishes a snapshot to subscribers.
func (s *Session) changedLocked() {
	s.updatedAt = time.Now()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// ---- orchestrator hooks ----

// begin marks the session running. The first run fixes the batch split with
// batchSize; later runs keep it whatever their own batch size. It returns the
// batches still to dispatch, the number of the first of them, and whether a
// batch was already dispatched, or an error if the session cannot run.
func (s *Session) begin(batchSize int) (remaining [][]chunker.TextChunk, next int, dispatched bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.running:
		return nil, 0, false, ErrAlreadyRunning
	case s.state == StateCompleted || s.state == StateAborted:
		return nil, 0, false, ErrFinished
	}
	if !s.initialized {
		s.initialized = true
		s.batches = chunker.Split(s.chunks, batchSize)
		s.progress.TotalBatches = len(s.batches)
		s.message = fmt.Sprintf("Starting batch processing: %d batches, %d chunks total",
			s.progress.TotalBatches, len(s.chunks))
	}
	s.running = true
	s.resumeQueued = false
	s.state = StateRunning
	s.changedLocked()
	return s.batches[s.nextBatch:], s.nextBatch, s.dispatched, nil
}

func (s *Session) pauseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseFlag
}

func (s *Session) setCooldown(remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown = remaining
	if remaining > 0 {
		secs := int((remaining + time.Second - 1) / time.Second)
		s.message = fmt.Sprintf("Waiting %d:%02d before sending next batch...", secs/60, secs%60)
	}
	s.changedLocked()
}

// startBatch marks the chunks of batch generating.
func (s *Session) startBatch(batch int, chunks []chunker.TextChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldown = 0
	s.dispatched = true
	s.progress.CurrentBatch = batch + 1
	for _, c := range chunks {
		if i, ok := s.slot[c.Index]; ok && s.audio[i].Status == StatusPending {
			s.audio[i].Status = StatusGenerating
		}
	}
	s.message = fmt.Sprintf("Processing batch %d/%d...", batch+1, s.progress.TotalBatches)
	s.changedLocked()
}

// applyBatch routes outcomes to their slots by chunk index and advances the
// counters. A non-nil batchErr fails every chunk of the batch that has not
// already reached a terminal state.
func (s *Session) applyBatch(batch int, chunks []chunker.TextChunk, outcomes []Outcome, batchErr error) (completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settle := func(o Outcome) {
		i, ok := s.slot[o.ChunkIndex]
		if !ok || s.audio[i].Status.Terminal() {
			return
		}
		a := &s.audio[i]
		if o.Err != "" {
			a.Status = StatusFailed
			a.Error = o.Err
			failed++
			return
		}
		a.Status = StatusCompleted
		a.AudioData = o.Response.AudioData
		a.Duration = o.Response.Duration
		a.Filename = o.Response.Filename
		a.Size = o.Response.Size
		completed++
	}

	if batchErr != nil {
		for _, c := range chunks {
			settle(Outcome{ChunkIndex: c.Index, Err: batchErr.Error()})
		}
	} else {
		for _, o := range outcomes {
			settle(o)
		}
	}

	s.progress.CompletedBatches = batch + 1
	s.progress.CompletedChunks += completed
	s.progress.FailedChunks += failed
	s.nextBatch = batch + 1
	s.changedLocked()
	return completed, failed
}

// stop records why a run ended.
func (s *Session) stop(state RunState, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cooldown = 0
	s.state = state
	s.pauseFlag = false
	if state == StateCompleted || state == StateAborted {
		s.finishedAt = time.Now()
	}
	s.message = message
	s.changedLocked()
}

// completionMessage summarises a finished run.
func completionMessage(p Progress) string {
	rate := 0.0
	if p.TotalChunks > 0 {
		rate = float64(p.CompletedChunks) / float64(p.TotalChunks) * 100
	}
	return fmt.Sprintf("Generation completed! %d/%d chunks successful (%.1f%%)",
		p.CompletedChunks, p.TotalChunks, rate)
}
