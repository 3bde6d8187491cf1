// Package batch drives chunked generation runs: chunks are grouped into
// fixed-size batches, each batch is dispatched concurrently, and batches are
// separated by a cooldown that keeps vendors under their rate limits.
//
// A [Session] holds all state of one run. The [Orchestrator] is stateless
// apart from its tuning and can drive many sessions at once. Pausing is
// cooperative: the pause flag is checked before each batch and on every
// cooldown tick, and a batch already in flight always settles.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/narrata/internal/chunker"
	"github.com/MrWong99/narrata/internal/observe"
)

// Defaults for [Orchestrator] tuning.
const (
	DefaultBatchSize   = 5
	DefaultCooldown    = 65 * time.Second
	DefaultCallTimeout = 2 * time.Minute
	DefaultTick        = time.Second
)

var (
	// ErrAlreadyRunning is returned by [Orchestrator.Run] when another Run is
	// driving the same session.
	ErrAlreadyRunning = errors.New("batch: session is already running")

	// ErrFinished is returned by [Orchestrator.Run] for a completed or
	// aborted session.
	ErrFinished = errors.New("batch: session has finished")
)

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithBatchSize sets how many chunks are dispatched together. Values below 1
// are ignored.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithCooldown sets the wait before every batch after the first. Zero
// disables it.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.cooldown = d
		}
	}
}

// WithCallTimeout bounds each chunk call. A call exceeding it fails its
// chunk. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.callTimeout = d
		}
	}
}

// WithTick sets how often the cooldown publishes its countdown and re-checks
// the pause flag.
func WithTick(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs sessions batch by batch through a [Dispatcher].
type Orchestrator struct {
	dispatcher  Dispatcher
	batchSize   int
	cooldown    time.Duration
	callTimeout time.Duration
	tick        time.Duration
	metrics     *observe.Metrics
}

// New creates an Orchestrator that sends chunks to d.
func New(d Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dispatcher:  d,
		batchSize:   DefaultBatchSize,
		cooldown:    DefaultCooldown,
		callTimeout: DefaultCallTimeout,
		tick:        DefaultTick,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// BatchSize returns the configured batch size.
func (o *Orchestrator) BatchSize() int { return o.batchSize }

// Run drives s until every batch is processed, a pause is honoured, or ctx is
// cancelled. Calling Run again on a paused session continues with the next
// undispatched batch of the split made by the first Run, even when this
// Orchestrator uses another batch size.
//
// Run returns nil when the session completes or pauses, ctx.Err() when it is
// aborted, and [ErrAlreadyRunning] or [ErrFinished] when it cannot start.
// Chunk failures are never returned; they are recorded on the session.
func (o *Orchestrator) Run(ctx context.Context, s *Session) error {
	batches, next, dispatched, err := s.begin(o.batchSize)
	if err != nil {
		return err
	}
	log := observe.Logger(ctx).With("session_id", s.ID())

	for i, chunks := range batches {
		b := next + i
		if ctx.Err() != nil {
			s.stop(StateAborted, "Generation aborted")
			return ctx.Err()
		}
		if s.pauseRequested() {
			log.Info("generation paused by user", "next_batch", b+1)
			s.stop(StatePaused, "Generation paused by user")
			return nil
		}

		if dispatched && o.cooldown > 0 {
			paused, err := o.wait(ctx, s)
			if err != nil {
				s.stop(StateAborted, "Generation aborted")
				return err
			}
			if paused {
				log.Info("generation paused during delay", "next_batch", b+1)
				s.stop(StatePaused, "Generation paused during delay")
				return nil
			}
		}

		o.runBatch(ctx, s, b, chunks)
		dispatched = true
	}

	snap := s.Snapshot()
	msg := completionMessage(snap.Progress)
	log.Info("generation completed",
		"completed_chunks", snap.Progress.CompletedChunks,
		"failed_chunks", snap.Progress.FailedChunks,
		"total_chunks", snap.Progress.TotalChunks,
	)
	s.stop(StateCompleted, msg)
	return nil
}

// wait runs the inter-batch cooldown. It reports paused=true if the pause
// flag was raised before the cooldown elapsed.
func (o *Orchestrator) wait(ctx context.Context, s *Session) (paused bool, err error) {
	start := time.Now()
	defer func() {
		o.metrics.CooldownDuration.Record(ctx, time.Since(start).Seconds())
		s.setCooldown(0)
	}()

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	deadline := start.Add(o.cooldown)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if s.pauseRequested() {
			return true, nil
		}
		s.setCooldown(remaining)

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		case <-time.After(remaining):
		}
	}
}

// runBatch dispatches one batch and applies its outcomes.
func (o *Orchestrator) runBatch(ctx context.Context, s *Session, b int, chunks []chunker.TextChunk) {
	ctx, span := observe.StartSpan(ctx, "batch.run",
		trace.WithAttributes(
			attribute.String("session_id", s.ID()),
			attribute.Int("batch", b+1),
			attribute.Int("chunks", len(chunks)),
		),
	)
	defer span.End()

	s.startBatch(b, chunks)
	start := time.Now()

	outcomes, batchErr := o.dispatchBatch(ctx, s, chunks)
	completed, failed := s.applyBatch(b, chunks, outcomes, batchErr)

	o.metrics.BatchDuration.Record(ctx, time.Since(start).Seconds())
	o.metrics.BatchesProcessed.Add(ctx, 1)
	for range completed {
		o.metrics.RecordChunk(ctx, string(StatusCompleted))
	}
	for range failed {
		o.metrics.RecordChunk(ctx, string(StatusFailed))
	}

	log := observe.Logger(ctx).With("session_id", s.ID(), "batch", b+1)
	if batchErr != nil {
		span.RecordError(batchErr)
		log.Error("batch failed", "err", batchErr, "chunks", len(chunks))
		return
	}
	log.Info("batch completed", "successful", completed, "failed", failed,
		"duration", time.Since(start))
}

// dispatchBatch sends every chunk concurrently and waits for all of them to
// settle. A chunk failure never affects its siblings. A panic inside a call
// is returned as a batch error.
func (o *Orchestrator) dispatchBatch(ctx context.Context, s *Session, chunks []chunker.TextChunk) ([]Outcome, error) {
	outcomes := make([]Outcome, len(chunks))
	var g errgroup.Group
	g.SetLimit(len(chunks))

	tmpl := s.Template()
	for i, c := range chunks {
		req := tmpl
		req.Text = c.Text
		req.ChunkIndex = c.Index
		g.Go(func() error {
			out, err := o.dispatchOne(ctx, Job{Request: req})
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// dispatchOne performs one call bounded by the call timeout. Only a panic in
// the dispatcher produces a non-nil error; every other failure is reported in
// the outcome.
func (o *Orchestrator) dispatchOne(ctx context.Context, job Job) (Outcome, error) {
	idx := job.Request.ChunkIndex
	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	panicked := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- fmt.Errorf("batch: chunk %d: panic: %v", idx, r)
			}
		}()
		resp, err := o.dispatcher.Dispatch(callCtx, job)
		switch {
		case err != nil:
			done <- Outcome{ChunkIndex: idx, Err: err.Error()}
		case !resp.Success:
			msg := resp.Error
			if msg == "" {
				msg = fmt.Sprintf("Chunk %d failed", idx)
			}
			done <- Outcome{ChunkIndex: idx, Err: msg}
		default:
			resp.ChunkIndex = idx
			done <- Outcome{ChunkIndex: idx, Response: resp}
		}
	}()

	select {
	case out := <-done:
		return out, nil
	case err := <-panicked:
		return Outcome{ChunkIndex: idx}, err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Outcome{ChunkIndex: idx, Err: "Generation aborted: " + ctx.Err().Error()}, nil
		}
		return Outcome{ChunkIndex: idx, Err: fmt.Sprintf("Chunk %d timed out after %s", idx, o.callTimeout)}, nil
	}
}
