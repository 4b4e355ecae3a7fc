package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop/marketplace-be/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQueue(t *testing.T, cfg Config, handler Handler) (*Queue, *DeadLetterStore) {
	t.Helper()

	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 5 * time.Millisecond
	}

	dlq := NewDeadLetterStore(testLogger())
	q := newQueue(cfg, dlq, testLogger())
	q.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		q.Stop()
		cancel()
	})

	return q, dlq
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestQueue_ProcessesEntries(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	q, _ := testQueue(t, Config{Concurrency: 2}, func(ctx context.Context, entry *Entry) error {
		mu.Lock()
		seen = append(seen, entry.Payload.(string))
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(KindNotification, fmt.Sprintf("payload-%d", i))
		require.NoError(t, err)
	}

	waitFor(t, time.Second, func() bool {
		succeeded, _ := q.history.totals()
		return succeeded == 5
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5)
}

func TestQueue_RetriesDependencyFailureThenDeadLetters(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	q, dlq := testQueue(t, Config{Concurrency: 1, MaxAttempts: 3}, func(ctx context.Context, entry *Entry) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return domain.NewDependencyError("embedding", errors.New("connection refused"))
	})

	entry, err := q.Enqueue(KindAnalysis, "job-1")
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		return dlq.Stats().Total == 1
	})

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	dead, ok := dlq.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonDependencyUnavailable, dead.Reason)
	assert.Equal(t, 3, dead.Attempts)
	assert.Equal(t, "test", dead.Queue)
}

func TestQueue_ValidationFailureDeadLettersImmediately(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	q, dlq := testQueue(t, Config{Concurrency: 1, MaxAttempts: 3}, func(ctx context.Context, entry *Entry) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return fmt.Errorf("%w: bad payload", domain.ErrValidation)
	})

	entry, err := q.Enqueue(KindAutoAssign, "job-1")
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		return dlq.Stats().Total == 1
	})

	mu.Lock()
	assert.Equal(t, 1, attempts, "non-retryable failures must not be retried")
	mu.Unlock()

	dead, ok := dlq.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonValidation, dead.Reason)
}

func TestQueue_TimeoutFailureIsRetryable(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	q, dlq := testQueue(t, Config{Concurrency: 1, MaxAttempts: 2}, func(ctx context.Context, entry *Entry) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return fmt.Errorf("provider call: %w", domain.ErrProviderTimeout)
		}
		return nil
	})

	_, err := q.Enqueue(KindAnalysis, "job-1")
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		succeeded, _ := q.history.totals()
		return succeeded == 1
	})

	assert.Equal(t, 0, dlq.Stats().Total)
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	q, _ := testQueue(t, Config{Concurrency: 1}, func(ctx context.Context, entry *Entry) error {
		return nil
	})

	q.Stop()

	_, err := q.Enqueue(KindNotification, "late")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestQueue_BufferFull(t *testing.T) {
	dlq := NewDeadLetterStore(testLogger())
	q := newQueue(Config{Name: "tiny", BufferSize: 1}, dlq, testLogger())
	q.SetHandler(func(ctx context.Context, entry *Entry) error { return nil })
	// Not started: nothing drains the buffer

	_, err := q.Enqueue(KindNotification, "first")
	require.NoError(t, err)

	_, err = q.Enqueue(KindNotification, "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer is full")
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantReason    FailureReason
		wantRetryable bool
	}{
		{
			name:          "validation error",
			err:           fmt.Errorf("%w: missing field", domain.ErrValidation),
			wantReason:    ReasonValidation,
			wantRetryable: false,
		},
		{
			name:          "invalid state",
			err:           fmt.Errorf("%w: pending -> completed", domain.ErrInvalidState),
			wantReason:    ReasonValidation,
			wantRetryable: false,
		},
		{
			name:          "invalid status",
			err:           fmt.Errorf("%w: review -> assigned", domain.ErrInvalidStatus),
			wantReason:    ReasonValidation,
			wantRetryable: false,
		},
		{
			name:          "invalid worker",
			err:           fmt.Errorf("%w: at capacity", domain.ErrInvalidWorker),
			wantReason:    ReasonValidation,
			wantRetryable: false,
		},
		{
			name:          "provider timeout",
			err:           fmt.Errorf("extract: %w", domain.ErrProviderTimeout),
			wantReason:    ReasonTimeout,
			wantRetryable: true,
		},
		{
			name:          "context deadline",
			err:           fmt.Errorf("call: %w", context.DeadlineExceeded),
			wantReason:    ReasonTimeout,
			wantRetryable: true,
		},
		{
			name:          "dependency unavailable",
			err:           domain.NewDependencyError("sendgrid", errors.New("503")),
			wantReason:    ReasonDependencyUnavailable,
			wantRetryable: true,
		},
		{
			name:          "unknown error retries conservatively",
			err:           errors.New("something odd"),
			wantReason:    ReasonUnknown,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, retryable := ClassifyFailure(tt.err)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, tt.wantRetryable, retryable)
		})
	}
}
