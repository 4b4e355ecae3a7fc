package queue

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ActionRecord is one admin retry/purge action applied to a dead-letter
// entry.
type ActionRecord struct {
	Action string    `json:"action"`
	At     time.Time `json:"at"`
	OK     bool      `json:"ok"`
	Detail string    `json:"detail,omitempty"`
}

// DeadLetterEntry is a queue entry that exhausted its retry budget or failed
// a non-retryable way.
type DeadLetterEntry struct {
	ID             string        `json:"id"`
	Queue          string        `json:"queue"`
	Kind           EntryKind     `json:"kind"`
	Payload        any           `json:"payload"`
	Reason         FailureReason `json:"reason"`
	Error          string        `json:"error"`
	Attempts       int           `json:"attempts"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
	DeadLetteredAt time.Time     `json:"dead_lettered_at"`
	Actions        []ActionRecord `json:"actions,omitempty"`
}

// Filter selects dead-letter entries by origin queue and/or failure reason.
// Zero values match everything.
type Filter struct {
	Queue  string
	Reason FailureReason
}

func (f Filter) matches(e *DeadLetterEntry) bool {
	if f.Queue != "" && e.Queue != f.Queue {
		return false
	}
	if f.Reason != "" && e.Reason != f.Reason {
		return false
	}
	return true
}

// DLQStats aggregates dead-letter counts.
type DLQStats struct {
	Total    int                   `json:"total"`
	ByReason map[FailureReason]int `json:"by_reason"`
	ByQueue  map[string]int        `json:"by_queue"`
}

// RetryResult is the per-entry outcome of a bulk retry.
type RetryResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DeadLetterStore holds terminally failed entries. Entries are mutated only
// by explicit admin retry actions and removed only by remove/purge.
type DeadLetterStore struct {
	mu      sync.Mutex
	entries map[string]*DeadLetterEntry
	requeue func(queueName string, entry *Entry) error
	logger  *slog.Logger
}

// NewDeadLetterStore creates an empty store. The fabric wires the requeue
// function after constructing its queues.
func NewDeadLetterStore(logger *slog.Logger) *DeadLetterStore {
	return &DeadLetterStore{
		entries: make(map[string]*DeadLetterEntry),
		logger:  logger,
	}
}

func (s *DeadLetterStore) setRequeue(fn func(queueName string, entry *Entry) error) {
	s.requeue = fn
}

// add records a terminal failure. A retried entry that fails again updates
// its existing record instead of duplicating it.
func (s *DeadLetterStore) add(entry *Entry, reason FailureReason, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.ID]; ok {
		existing.Reason = reason
		existing.Error = errMsg
		existing.Attempts = entry.Attempts
		existing.DeadLetteredAt = time.Now()
		return
	}

	s.entries[entry.ID] = &DeadLetterEntry{
		ID:             entry.ID,
		Queue:          entry.Queue,
		Kind:           entry.Kind,
		Payload:        entry.Payload,
		Reason:         reason,
		Error:          errMsg,
		Attempts:       entry.Attempts,
		EnqueuedAt:     entry.EnqueuedAt,
		DeadLetteredAt: time.Now(),
	}

	s.logger.Warn("Entry moved to dead-letter store",
		slog.String("entry_id", entry.ID),
		slog.String("queue", entry.Queue),
		slog.String("reason", string(reason)),
	)
}

// List returns matching entries, newest first.
func (s *DeadLetterStore) List(filter Filter) []DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DeadLetterEntry
	for _, e := range s.entries {
		if filter.matches(e) {
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DeadLetteredAt.After(out[j].DeadLetteredAt)
	})
	return out
}

// Get returns one entry by ID.
func (s *DeadLetterStore) Get(id string) (*DeadLetterEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Stats aggregates counts by reason and origin queue.
func (s *DeadLetterStore) Stats() DLQStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := DLQStats{
		Total:    len(s.entries),
		ByReason: make(map[FailureReason]int),
		ByQueue:  make(map[string]int),
	}
	for _, e := range s.entries {
		stats.ByReason[e.Reason]++
		stats.ByQueue[e.Queue]++
	}
	return stats
}

// Remove deletes one entry.
func (s *DeadLetterStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}
	delete(s.entries, id)
	return nil
}

// Retry re-enqueues one entry to its origin queue with the attempt count
// reset. The entry stays in the store with the action recorded; a second
// terminal failure updates it in place.
func (s *DeadLetterStore) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryLocked(id)
}

func (s *DeadLetterStore) retryLocked(id string) error {
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}
	if s.requeue == nil {
		return fmt.Errorf("dead-letter store has no requeue target")
	}

	// Attempt budget is reset; the origin queue re-applies its configured
	// MaxAttempts on requeue.
	entry := &Entry{
		ID:         e.ID,
		Queue:      e.Queue,
		Kind:       e.Kind,
		Payload:    e.Payload,
		Attempts:   0,
		EnqueuedAt: time.Now(),
	}

	err := s.requeue(e.Queue, entry)
	record := ActionRecord{Action: "retry", At: time.Now(), OK: err == nil}
	if err != nil {
		record.Detail = err.Error()
	}
	e.Actions = append(e.Actions, record)

	if err != nil {
		return fmt.Errorf("failed to retry entry %s: %w", id, err)
	}

	s.logger.Info("Dead-letter entry retried",
		slog.String("entry_id", id),
		slog.String("queue", e.Queue),
	)
	return nil
}

// BulkRetry applies Retry to every entry matching the filter and reports
// per-entry outcomes.
func (s *DeadLetterStore) BulkRetry(filter Filter) []RetryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, e := range s.entries {
		if filter.matches(e) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	results := make([]RetryResult, 0, len(ids))
	for _, id := range ids {
		result := RetryResult{ID: id, OK: true}
		if err := s.retryLocked(id); err != nil {
			result.OK = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// Purge irreversibly deletes all entries matching the filter and returns the
// number removed. An empty filter purges everything.
func (s *DeadLetterStore) Purge(filter Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if filter.matches(e) {
			delete(s.entries, id)
			removed++
		}
	}

	s.logger.Info("Dead-letter entries purged",
		slog.Int("removed", removed),
		slog.String("queue_filter", filter.Queue),
		slog.String("reason_filter", string(filter.Reason)),
	)
	return removed
}
