package benchmark

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/transcribe"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("benchmark queue is full")

// ErrQueueStopped is returned by Submit after Stop has been called.
var ErrQueueStopped = errors.New("benchmark queue is stopped")

// Job is a run waiting for a worker, together with its audio.
type Job struct {
	Run   *Run
	Audio transcribe.Audio
}

// QueueStats reports the current state of the benchmark queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
}

// QueueOptions configures the benchmark worker pool.
type QueueOptions struct {
	Runner    *Runner
	Workers   int
	QueueSize int
	Log       zerolog.Logger
}

// Queue runs benchmark jobs on a fixed set of workers.
type Queue struct {
	jobs   chan Job
	runner *Runner
	opts   QueueOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu serializes enqueuers against each other and against Stop, so a
	// free slot observed under the lock is still free at send time.
	mu      sync.Mutex
	stopped bool

	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// NewQueue creates a benchmark worker pool. Workers and QueueSize below 1
// are raised to 1.
func NewQueue(opts QueueOptions) *Queue {
	opts.Workers = max(opts.Workers, 1)
	opts.QueueSize = max(opts.QueueSize, 1)
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:   make(chan Job, opts.QueueSize),
		runner: opts.Runner,
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	if q.runner.opts.Preprocess {
		if transcribe.CheckSox() {
			q.log.Info().Msg("audio preprocessing enabled (sox found)")
		} else {
			q.log.Warn().Msg("PREPROCESS_AUDIO=true but sox not found in PATH; preprocessing disabled")
		}
	}

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info().Int("workers", q.opts.Workers).Int("queue_size", q.opts.QueueSize).Msg("benchmark worker pool started")
}

// Stop rejects new jobs, lets workers drain the queue, and waits for them.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	q.log.Info().
		Int64("completed", q.completed.Load()).
		Int64("failed", q.failed.Load()).
		Msg("benchmark worker pool stopped")
}

// Enqueue adds a job to the queue. Returns false if the queue is full or
// stopped.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	select {
	case q.jobs <- j:
		return true
	default:
		return false
	}
}

// Submit saves the pending run and enqueues it. Nothing is saved when the
// queue has no room, so rejected runs never appear in the store.
func (q *Queue) Submit(ctx context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	if len(q.jobs) >= cap(q.jobs) {
		return ErrQueueFull
	}
	if err := q.runner.Store().Save(ctx, j.Run); err != nil {
		return err
	}
	// Only enqueuers send, and they hold mu, so this cannot block.
	q.jobs <- j
	return nil
}

// Stats returns current queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Pending:   len(q.jobs),
		Running:   int(q.running.Load()),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Workers:   q.opts.Workers,
		Capacity:  q.opts.QueueSize,
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (q *Queue) QueueDepth() int { return len(q.jobs) }

// RunningJobs returns the number of jobs currently executing.
func (q *Queue) RunningJobs() int { return int(q.running.Load()) }

// Workers returns the number of worker goroutines.
func (q *Queue) Workers() int { return q.opts.Workers }

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log := q.log.With().Int("worker", id).Logger()

	for job := range q.jobs {
		q.running.Add(1)
		err := q.runner.Execute(q.ctx, job.Run, job.Audio)
		q.running.Add(-1)
		if err != nil {
			q.failed.Add(1)
			log.Warn().Err(err).
				Str("run_id", job.Run.ID).
				Msg("benchmark run failed")
		} else {
			q.completed.Add(1)
		}
	}
}
