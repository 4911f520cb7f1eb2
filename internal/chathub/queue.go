package chathub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopchat/backend/internal/metrics"
	"shopchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("generation queue is closed")

// ProcessFunc consumes one generation job. The queue does not start the next
// job until it returns.
type ProcessFunc func(ctx context.Context, job models.GenerationJob) error

// GenerationQueue is a strict FIFO with a single running slot. The slot is
// released when the consumer returns (or panics), never on dispatch, so at most
// one job is in flight and calls to the generation backend are serialized.
type GenerationQueue struct {
	mu      sync.Mutex
	jobs    []models.GenerationJob
	running bool
	closed  bool
	process ProcessFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewGenerationQueue creates an idle queue. Jobs run with a context that is
// cancelled only when Close gives up waiting, not when the requester leaves.
func NewGenerationQueue(log zerolog.Logger) *GenerationQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &GenerationQueue{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "generation-queue").Logger(),
	}
}

// SetProcessFunc installs the consumer. It must be called before the first Enqueue.
func (q *GenerationQueue) SetProcessFunc(fn ProcessFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.process = fn
}

// Enqueue appends job to the tail and starts processing if the slot is free.
func (q *GenerationQueue) Enqueue(job models.GenerationJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	q.jobs = append(q.jobs, job)
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	next, process, ok := q.popLocked()
	q.mu.Unlock()

	if ok {
		go q.run(process, next)
	}
	return nil
}

// processNext pops the head when the slot is free. It is a no-op while a job
// is running; the running job calls it again when it finishes.
func (q *GenerationQueue) processNext() {
	q.mu.Lock()
	job, process, ok := q.popLocked()
	q.mu.Unlock()

	if ok {
		go q.run(process, job)
	}
}

// popLocked takes the head and the slot. The caller holds q.mu.
func (q *GenerationQueue) popLocked() (models.GenerationJob, ProcessFunc, bool) {
	if q.running || len(q.jobs) == 0 {
		return models.GenerationJob{}, nil, false
	}
	job := q.jobs[0]
	q.jobs[0] = models.GenerationJob{}
	q.jobs = q.jobs[1:]
	q.running = true
	q.wg.Add(1)
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	return job, q.process, true
}

func (q *GenerationQueue) run(process ProcessFunc, job models.GenerationJob) {
	defer q.wg.Done()
	start := time.Now()
	status := "ok"

	// Runs before wg.Done so the next job is accounted for before this one is released.
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			q.log.Error().
				Str("conversation_id", job.ConversationID).
				Str("panic", fmt.Sprint(r)).
				Msg("generation consumer panicked")
		}
		metrics.RecordJob(status, time.Since(start).Seconds())

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		q.processNext()
	}()

	if process == nil {
		status = "dropped"
		q.log.Error().Str("conversation_id", job.ConversationID).Msg("no consumer installed, job dropped")
		return
	}
	if err := process(q.ctx, job); err != nil {
		status = "error"
	}
}

// Len returns the number of jobs waiting behind the running one.
func (q *GenerationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Running reports whether a job currently holds the slot.
func (q *GenerationQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close stops accepting jobs and lets the queue drain until ctx is done. When
// ctx expires first, the running job's context is cancelled and the jobs still
// waiting are dropped.
func (q *GenerationQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		dropped := len(q.jobs)
		q.jobs = nil
		metrics.QueueDepth.Set(0)
		q.mu.Unlock()
		q.cancel()
		q.log.Warn().Int("dropped", dropped).Msg("generation queue closed before draining")
		return ctx.Err()
	}
}
