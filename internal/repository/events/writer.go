package events

import (
	"context"
	"time"

	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/ratelimit"
)

// queueCapacity bounds the writer queue. A full queue degrades the caller to
// a synchronous insert instead of blocking or dropping.
const queueCapacity = 1024

// writerErrLogInterval rate-limits writer failure log lines.
const writerErrLogInterval = 60 * time.Second

// job is one unit of work for the writer: either a persist request or a
// purge request, never both.
type job struct {
	record Record
	purge  *purgeJob
}

// purgeJob asks the writer to run a retention purge and report the result.
type purgeJob struct {
	retentionDays int
	done          chan<- PurgeResult
}

// PurgeResult reports the outcome of an asynchronous purge.
type PurgeResult struct {
	// Deleted is the total number of rows removed from all tables.
	Deleted int64
	// RetentionDays echoes the requested retention window.
	RetentionDays int
	// Err is non-nil when the purge failed.
	Err error
}

// StartWriter launches the background writer goroutine.
// Idempotent: starting a running writer is a no-op.
func (s *Store) StartWriter(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running.Store(true)

	go s.writerLoop(ctx, s.stopCh, s.doneCh)
}

// StopWriter stops the background writer. With flush set, it first gives the
// queue a bounded grace period to drain, then drains any remaining jobs
// synchronously so nothing enqueued before the stop is lost.
func (s *Store) StopWriter(ctx context.Context, flush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	if flush {
		deadline := time.Now().Add(2 * time.Second)
		for len(s.jobs) > 0 && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}

	s.running.Store(false)
	close(s.stopCh)
	<-s.doneCh

	// Jobs that raced the shutdown are written in this goroutine.
	for {
		select {
		case j := <-s.jobs:
			s.runJob(ctx, j)
		default:
			return
		}
	}
}

// Enqueue submits a record for asynchronous persistence. It never blocks:
// when the writer is stopped or the queue is full, the record is written
// synchronously in the caller's goroutine as an explicit degraded mode.
func (s *Store) Enqueue(ctx context.Context, rec Record) {
	if s.running.Load() {
		select {
		case s.jobs <- job{record: rec}:
			s.metrics.QueueDepth.Set(float64(len(s.jobs)))
			return
		default:
			// Queue full, fall through to the synchronous path.
		}
	}

	s.logInsertErr(ctx, s.Insert(rec))
}

// EnqueuePurge submits a retention purge. The result is delivered on done
// (if non-nil) from whichever goroutine ran the purge; callers receive it as
// a message rather than having their state touched by the writer.
func (s *Store) EnqueuePurge(ctx context.Context, retentionDays int, done chan<- PurgeResult) {
	p := &purgeJob{retentionDays: retentionDays, done: done}

	if s.running.Load() {
		select {
		case s.jobs <- job{purge: p}:
			s.metrics.QueueDepth.Set(float64(len(s.jobs)))
			return
		default:
		}
	}

	s.runPurge(ctx, p)
}

// writerLoop drains the job queue strictly in FIFO order until stopped.
func (s *Store) writerLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case j := <-s.jobs:
			s.metrics.QueueDepth.Set(float64(len(s.jobs)))
			s.runJob(ctx, j)
		}
	}
}

// runJob executes one queued unit of work.
func (s *Store) runJob(ctx context.Context, j job) {
	if j.purge != nil {
		s.runPurge(ctx, j.purge)
		return
	}

	s.logInsertErr(ctx, s.Insert(j.record))
}

// runPurge executes a purge job and reports its result.
func (s *Store) runPurge(ctx context.Context, p *purgeJob) {
	deleted, err := s.Purge(p.retentionDays)
	if err != nil {
		logger.ErrorKV(ctx, "Purge failed", "error", err)
	}

	if p.done != nil {
		p.done <- PurgeResult{Deleted: deleted, RetentionDays: p.retentionDays, Err: err}
	}
}

// logInsertErr logs a failed insert with rate limiting; the record is
// dropped rather than blocking or crashing the writer.
func (s *Store) logInsertErr(ctx context.Context, err error) {
	if err == nil {
		return
	}

	if allowed, suppressed := ratelimit.ShouldLog("db_insert_error", writerErrLogInterval); allowed {
		logger.ErrorKV(ctx, "Insert failed, record dropped", "error", err, "suppressed", suppressed)
	}
}
