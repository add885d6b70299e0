// Package queue keeps mutations that could not reach the server until they do.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind is the endpoint class a pending item targets
type Kind string

const (
	KindJournalEntry Kind = "journal-entry"
	KindQuizScore    Kind = "quiz-score"
)

// PendingItem is a mutation not yet acknowledged by the server
type PendingItem struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Store is the durable backing of one or more queues, addressed by storage key
type Store interface {
	Append(ctx context.Context, key string, item PendingItem) error
	List(ctx context.Context, key string) ([]PendingItem, error)
	Delete(ctx context.Context, key, id string) error
	Count(ctx context.Context, key string) (int, error)
}

// Sender delivers one payload to the server. A nil error means the server acknowledged it.
type Sender func(ctx context.Context, payload json.RawMessage) error

// Outcome of one item in a drain
type Outcome string

const (
	OutcomeOK Outcome = "ok"
	// All failures are retryable: the server does not tell transient and permanent rejections apart
	OutcomeRetryable Outcome = "retryable-error"
)

// ItemResult records what happened to one item during a drain
type ItemResult struct {
	ID      string
	Outcome Outcome
	Err     error
}

// DrainSummary aggregates one drain pass
type DrainSummary struct {
	// Skipped is set when another drain of the same queue was already running
	Skipped   bool
	Attempted int
	Sent      int
	Retained  int
	Results   []ItemResult
}

// Drained reports whether the pass attempted items and none failed
func (s DrainSummary) Drained() bool {
	return !s.Skipped && s.Attempted > 0 && s.Retained == 0
}

// Queue is a durable FIFO of pending items of one kind
type Queue struct {
	store Store
	key   string
	kind  Kind

	draining atomic.Bool
	now      func() time.Time
}

// New creates a queue of kind persisted in store under key
func New(store Store, key string, kind Kind) *Queue {
	return &Queue{
		store: store,
		key:   key,
		kind:  kind,
		now:   time.Now,
	}
}

// Key returns the storage key of the queue
func (q *Queue) Key() string {
	return q.key
}

// Kind returns the endpoint class of the queued items
func (q *Queue) Kind() Kind {
	return q.kind
}

// Enqueue appends payload with a fresh time-ordered id
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage) (PendingItem, error) {
	if !json.Valid(payload) {
		return PendingItem{}, fmt.Errorf("payload is not valid JSON")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return PendingItem{}, fmt.Errorf("failed to generate item id: %w", err)
	}

	item := PendingItem{
		ID:         id.String(),
		Kind:       q.kind,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.store.Append(ctx, q.key, item); err != nil {
		return PendingItem{}, err
	}

	logrus.Infof("Queued %s %s for later delivery", item.Kind, item.ID)
	return item, nil
}

// List returns the pending items in FIFO order
func (q *Queue) List(ctx context.Context) ([]PendingItem, error) {
	return q.store.List(ctx, q.key)
}

// Len returns the number of pending items
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.Count(ctx, q.key)
}

// DrainAll sends every pending item once, in FIFO order.
// An acknowledged item is removed before the next one is sent; a failed item stays
// in place and the drain moves on. A drain started while another is running on the
// same queue returns immediately with Skipped set.
// The returned error is reserved for storage failures and cancellation.
func (q *Queue) DrainAll(ctx context.Context, sender Sender) (DrainSummary, error) {
	if !q.draining.CompareAndSwap(false, true) {
		logrus.Debugf("Drain of %s already running, skipping", q.key)
		return DrainSummary{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	items, err := q.store.List(ctx, q.key)
	if err != nil {
		return DrainSummary{}, err
	}

	var summary DrainSummary
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			summary.Retained += len(items) - i
			return summary, err
		}

		summary.Attempted++
		if err := sender(ctx, item.Payload); err != nil {
			logrus.Warnf("Failed to sync %s %s, keeping it queued: %v", item.Kind, item.ID, err)
			summary.Retained++
			summary.Results = append(summary.Results, ItemResult{ID: item.ID, Outcome: OutcomeRetryable, Err: err})
			continue
		}

		if err := q.store.Delete(ctx, q.key, item.ID); err != nil {
			// The server has the item but it is still queued; stop before sending anything else
			summary.Retained += len(items) - i
			return summary, fmt.Errorf("item %s sent but not removed: %w", item.ID, err)
		}
		summary.Sent++
		summary.Results = append(summary.Results, ItemResult{ID: item.ID, Outcome: OutcomeOK})
	}

	if summary.Attempted > 0 {
		logrus.Infof("Drained %s: %d sent, %d kept", q.key, summary.Sent, summary.Retained)
	}
	return summary, nil
}
