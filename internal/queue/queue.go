package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// In-Process Job Queue
// =============================================================================
//
// One implementation serves every pipeline stage. Queues differ only by
// configuration: worker count, rate limit, retry policy.

var (
	// ErrDuplicate indicates a job with the same id is already pending or
	// in flight
	ErrDuplicate = errors.New("queue: duplicate job")

	// ErrShutdown indicates the queue is no longer accepting jobs
	ErrShutdown = errors.New("queue: shut down")

	// ErrFull indicates the queue buffer is full
	ErrFull = errors.New("queue: buffer full")
)

// Config holds per-queue tuning. Rate is events per second.
type Config struct {
	Name        string   `toml:"name"`
	Workers     int      `toml:"workers"`
	Rate        float64  `toml:"rate"`
	Burst       int      `toml:"burst"`
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	BufferSize  int      `toml:"buffer_size"`
}

// Duration wraps time.Duration for TOML decoding
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) value() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a queue configuration with sane defaults
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		Workers:     2,
		Rate:        3,
		Burst:       1,
		MaxAttempts: 3,
		BaseDelay:   Duration(time.Second),
		MaxDelay:    Duration(30 * time.Second),
		BufferSize:  4096,
	}
}

func validateConfig(cfg *Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = Duration(time.Second)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
}

// Job is one unit of work. ID is deterministic per logical operation so
// duplicate triggers collapse into a single execution.
type Job[T any] struct {
	ID      string
	Attempt int
	Payload T
}

// Handler processes one job. A nil return completes the job; an error
// schedules a retry until attempts are exhausted.
type Handler[T any] func(ctx context.Context, job Job[T]) error

// EventStatus describes a terminal job outcome
type EventStatus int

const (
	EventCompleted EventStatus = iota
	EventFailed
)

func (s EventStatus) String() string {
	switch s {
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted when a job reaches a terminal state
type Event struct {
	Queue    string
	JobID    string
	Status   EventStatus
	Attempts int
	Err      error
}

// Stats is a snapshot of queue activity counters
type Stats struct {
	Enqueued  int64
	Deduped   int64
	Completed int64
	Failed    int64
	Retried   int64
	Dropped   int64
}

// Queue is a named, rate-limited worker pool with deduplication and
// bounded retry
type Queue[T any] struct {
	cfg     Config
	handler Handler[T]
	logger  *slog.Logger
	limiter *rate.Limiter

	jobs   chan Job[T]
	events chan Event

	// onFailure is invoked once per job after retries are exhausted
	onFailure func(job Job[T], err error)

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	wg       sync.WaitGroup
	retryWG  sync.WaitGroup
	shutdown chan struct{}

	enqueued  atomic.Int64
	deduped   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
}

// New creates a queue. Call Start to begin processing.
func New[T any](cfg Config, handler Handler[T], logger *slog.Logger) *Queue[T] {
	validateConfig(&cfg)

	return &Queue[T]{
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With("queue", cfg.Name),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		jobs:     make(chan Job[T], cfg.BufferSize),
		events:   make(chan Event, cfg.BufferSize),
		pending:  make(map[string]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Name returns the queue name
func (q *Queue[T]) Name() string {
	return q.cfg.Name
}

// Events returns the terminal-outcome stream. Events are dropped, not
// blocked on, when no consumer keeps up.
func (q *Queue[T]) Events() <-chan Event {
	return q.events
}

// OnFailure registers a callback for jobs that exhaust their attempts.
// Must be called before Start.
func (q *Queue[T]) OnFailure(fn func(job Job[T], err error)) {
	q.onFailure = fn
}

// Enqueue submits a job. Jobs with an id already pending or in flight are
// rejected with ErrDuplicate; the original execution stands for both.
func (q *Queue[T]) Enqueue(id string, payload T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrShutdown
	}
	if _, exists := q.pending[id]; exists {
		q.mu.Unlock()
		q.deduped.Add(1)
		return ErrDuplicate
	}
	q.pending[id] = struct{}{}
	q.mu.Unlock()

	job := Job[T]{ID: id, Attempt: 1, Payload: payload}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	default:
		q.release(id)
		return ErrFull
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or
// Shutdown is called.
func (q *Queue[T]) Start(ctx context.Context) {
	q.logger.Info("starting queue",
		"workers", q.cfg.Workers,
		"rate", q.cfg.Rate,
		"maxAttempts", q.cfg.MaxAttempts,
	)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Shutdown stops intake, lets in-flight jobs finish, and cancels
// scheduled retries. Buffered jobs that never started are dropped.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.shutdown)
	q.wg.Wait()
	q.retryWG.Wait()
	close(q.events)

	q.logger.Info("queue stopped",
		"completed", q.completed.Load(),
		"failed", q.failed.Load(),
	)
}

// GetStats returns a snapshot of activity counters
func (q *Queue[T]) GetStats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Deduped:   q.deduped.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// =============================================================================
// Processing
// =============================================================================

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.shutdown:
			return
		case job := <-q.jobs:
			if err := q.limiter.Wait(ctx); err != nil {
				// Canceled mid-wait. The job is dropped, not failed.
				q.release(job.ID)
				return
			}

			q.process(ctx, job)
		}
	}
}

func (q *Queue[T]) process(ctx context.Context, job Job[T]) {
	err := q.handler(ctx, job)
	if err == nil {
		q.completed.Add(1)
		q.release(job.ID)
		q.emit(Event{Queue: q.cfg.Name, JobID: job.ID, Status: EventCompleted, Attempts: job.Attempt})
		return
	}

	if job.Attempt >= q.cfg.MaxAttempts {
		q.failed.Add(1)
		q.release(job.ID)
		q.logger.Error("job failed permanently",
			"jobId", job.ID,
			"attempts", job.Attempt,
			"error", err,
		)
		q.emit(Event{Queue: q.cfg.Name, JobID: job.ID, Status: EventFailed, Attempts: job.Attempt, Err: err})
		if q.onFailure != nil {
			q.onFailure(job, err)
		}
		return
	}

	delay := q.retryDelay(job.Attempt)
	q.retried.Add(1)
	q.logger.Warn("job failed, scheduling retry",
		"jobId", job.ID,
		"attempt", job.Attempt,
		"delay", delay,
		"error", err,
	)

	job.Attempt++
	q.retryWG.Add(1)
	go func() {
		defer q.retryWG.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-q.shutdown:
			q.release(job.ID)
		case <-ctx.Done():
			q.release(job.ID)
		case <-timer.C:
			select {
			case q.jobs <- job:
			default:
				// Buffer full on requeue. Count as a permanent failure.
				q.failed.Add(1)
				q.release(job.ID)
				q.emit(Event{Queue: q.cfg.Name, JobID: job.ID, Status: EventFailed, Attempts: job.Attempt, Err: ErrFull})
				if q.onFailure != nil {
					q.onFailure(job, ErrFull)
				}
			}
		}
	}()
}

func (q *Queue[T]) retryDelay(attempt int) time.Duration {
	delay := q.cfg.BaseDelay.value() * time.Duration(1<<(attempt-1))
	if delay > q.cfg.MaxDelay.value() {
		delay = q.cfg.MaxDelay.value()
	}
	return delay
}

func (q *Queue[T]) release(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

func (q *Queue[T]) emit(e Event) {
	select {
	case q.events <- e:
	default:
		q.dropped.Add(1)
	}
}
