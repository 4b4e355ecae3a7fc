package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handler processes one queue entry attempt. Returning an error routes the
// entry through retry classification; returning nil completes it.
type Handler func(ctx context.Context, entry *Entry) error

// Config holds one queue's independent limits and retry policy.
type Config struct {
	Name          string
	Concurrency   int
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
	BaseBackoff   time.Duration
	BufferSize    int

	// Retention bounds for the observability history, not correctness.
	SucceededRetention int
	FailedRetention    int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Burst <= 0 {
		c.Burst = c.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.SucceededRetention <= 0 {
		c.SucceededRetention = 1000
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 5000
	}
}

// Queue is one stage queue: a bounded worker pool with its own rate limiter
// and exponential retry policy. Entries that exhaust their attempts, or fail
// a non-retryable way, move to the Dead-Letter Store.
type Queue struct {
	config  Config
	limiter *rate.Limiter
	handler Handler
	entries chan *Entry
	dlq     *DeadLetterStore
	history *history
	logger  *slog.Logger

	wg       sync.WaitGroup
	timers   sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

func newQueue(config Config, dlq *DeadLetterStore, logger *slog.Logger) *Queue {
	config.applyDefaults()

	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst)
	}

	return &Queue{
		config:   config,
		limiter:  limiter,
		entries:  make(chan *Entry, config.BufferSize),
		dlq:      dlq,
		history:  newHistory(config.SucceededRetention, config.FailedRetention),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.config.Name
}

// SetHandler registers the stage handler. Must be called before Start.
func (q *Queue) SetHandler(h Handler) {
	q.handler = h
}

// Enqueue wraps a payload in a fresh entry and submits it. Returns an error
// when the queue buffer is full or the queue is stopped.
func (q *Queue) Enqueue(kind EntryKind, payload any) (*Entry, error) {
	entry := &Entry{
		ID:          uuid.New().String(),
		Queue:       q.config.Name,
		Kind:        kind,
		Payload:     payload,
		MaxAttempts: q.config.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}
	if err := q.submit(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// submit pushes an entry (new or retried) onto the buffer without blocking.
func (q *Queue) submit(entry *Entry) error {
	select {
	case <-q.stopChan:
		return fmt.Errorf("queue %s is stopped", q.config.Name)
	default:
	}

	select {
	case q.entries <- entry:
		return nil
	default:
		return fmt.Errorf("queue %s buffer is full", q.config.Name)
	}
}

// Start spawns the queue's worker pool.
func (q *Queue) Start(ctx context.Context) {
	if q.handler == nil {
		panic("queue: Start called before SetHandler on " + q.config.Name)
	}

	q.logger.Info("Starting queue",
		slog.String("queue", q.config.Name),
		slog.Int("concurrency", q.config.Concurrency),
		slog.Float64("rate_per_second", q.config.RatePerSecond),
	)

	for i := 0; i < q.config.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx, i)
	}
}

// Stop drains the worker pool. In-flight retry timers are abandoned; their
// callbacks become no-ops once the queue is stopped.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopChan)
	})
	q.wg.Wait()
}

// workerLoop is the processing loop for one worker goroutine.
func (q *Queue) workerLoop(ctx context.Context, workerNum int) {
	defer q.wg.Done()

	workerName := fmt.Sprintf("%s-%d", q.config.Name, workerNum)

	for {
		select {
		case <-q.stopChan:
			q.logger.Debug("Queue worker stopping",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			q.logger.Debug("Queue worker stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case entry := <-q.entries:
			if q.limiter != nil {
				if err := q.limiter.Wait(ctx); err != nil {
					return
				}
			}
			q.process(ctx, entry, workerName)
		}
	}
}

func (q *Queue) process(ctx context.Context, entry *Entry, workerName string) {
	entry.Attempts++

	q.logger.Debug("Processing queue entry",
		slog.String("worker_name", workerName),
		slog.String("entry_id", entry.ID),
		slog.String("kind", string(entry.Kind)),
		slog.Int("attempt", entry.Attempts),
	)

	err := q.handler(ctx, entry)
	if err == nil {
		q.history.recordSuccess(entry)
		return
	}

	reason, retryable := ClassifyFailure(err)
	q.history.recordFailure(entry, err)

	if !retryable {
		q.logger.Warn("Queue entry failed permanently",
			slog.String("queue", q.config.Name),
			slog.String("entry_id", entry.ID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		q.dlq.add(entry, reason, err.Error())
		return
	}

	if entry.Attempts >= entry.MaxAttempts {
		q.logger.Error("Queue entry exhausted retry budget",
			slog.String("queue", q.config.Name),
			slog.String("entry_id", entry.ID),
			slog.Int("attempts", entry.Attempts),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		q.dlq.add(entry, reason, err.Error())
		return
	}

	backoff := q.config.BaseBackoff << uint(entry.Attempts-1)
	entry.NextAttemptAt = time.Now().Add(backoff)

	q.logger.Warn("Queue entry will be retried",
		slog.String("queue", q.config.Name),
		slog.String("entry_id", entry.ID),
		slog.Int("attempt", entry.Attempts),
		slog.Int("max_attempts", entry.MaxAttempts),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)

	q.timers.Add(1)
	time.AfterFunc(backoff, func() {
		defer q.timers.Done()

		select {
		case <-q.stopChan:
			return
		default:
		}

		if err := q.submit(entry); err != nil {
			q.logger.Error("Failed to requeue entry after backoff",
				slog.String("queue", q.config.Name),
				slog.String("entry_id", entry.ID),
				slog.Any("error", err),
			)
			q.dlq.add(entry, ReasonUnknown, "requeue failed: "+err.Error())
		}
	})
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Name        string `json:"name"`
	Depth       int    `json:"depth"`
	Concurrency int    `json:"concurrency"`
	Succeeded   int64  `json:"succeeded"`
	Failed      int64  `json:"failed"`
}

// Stats returns the queue's current counters.
func (q *Queue) Stats() Stats {
	succeeded, failed := q.history.totals()
	return Stats{
		Name:        q.config.Name,
		Depth:       len(q.entries),
		Concurrency: q.config.Concurrency,
		Succeeded:   succeeded,
		Failed:      failed,
	}
}

// ExecutionRecord is one retained handler outcome.
type ExecutionRecord struct {
	EntryID    string    `json:"entry_id"`
	Kind       EntryKind `json:"kind"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// history keeps bounded rings of recent outcomes for observability.
type history struct {
	mu             sync.Mutex
	succeeded      []ExecutionRecord
	failed         []ExecutionRecord
	succeededCap   int
	failedCap      int
	totalSucceeded int64
	totalFailed    int64
}

func newHistory(succeededCap, failedCap int) *history {
	return &history{
		succeededCap: succeededCap,
		failedCap:    failedCap,
	}
}

func (h *history) recordSuccess(entry *Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalSucceeded++
	h.succeeded = appendBounded(h.succeeded, ExecutionRecord{
		EntryID:    entry.ID,
		Kind:       entry.Kind,
		Attempts:   entry.Attempts,
		FinishedAt: time.Now(),
	}, h.succeededCap)
}

func (h *history) recordFailure(entry *Entry, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalFailed++
	h.failed = appendBounded(h.failed, ExecutionRecord{
		EntryID:    entry.ID,
		Kind:       entry.Kind,
		Attempts:   entry.Attempts,
		Error:      err.Error(),
		FinishedAt: time.Now(),
	}, h.failedCap)
}

func (h *history) totals() (succeeded, failed int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalSucceeded, h.totalFailed
}

func appendBounded(records []ExecutionRecord, record ExecutionRecord, limit int) []ExecutionRecord {
	records = append(records, record)
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}
