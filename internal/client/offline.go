package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iTrooz/offline-pwa-proxy/internal/queue"

	"github.com/sirupsen/logrus"
)

// ErrOffline is returned when a submission was queued without trying the network
var ErrOffline = errors.New("offline")

// Connectivity tells whether the server is believed to be reachable
type Connectivity interface {
	Online() bool
}

// Enqueuer stores a payload until it can be delivered
type Enqueuer interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (queue.PendingItem, error)
}

// SubmitResult describes where a submission ended up
type SubmitResult struct {
	// Queued is set when the payload was stored for a later drain
	Queued bool
	Item   queue.PendingItem
}

// Journal submits journal entries, queueing them when the server cannot take them
type Journal struct {
	client *Client
	queue  *queue.Queue
	conn   Connectivity
}

// NewJournal creates a journal submitter. conn may be nil to always try the network.
func NewJournal(c *Client, q *queue.Queue, conn Connectivity) *Journal {
	return &Journal{client: c, queue: q, conn: conn}
}

// Submit posts entry. When offline, on network failure or on server rejection the
// entry is queued; the returned error still describes why it was not delivered.
func (j *Journal) Submit(ctx context.Context, entry Entry) (SubmitResult, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to encode entry: %w", err)
	}
	return SubmitOrQueue(ctx, j.conn, j.queue, payload, j.client.AddReflection)
}

// Send is the queue sender of journal entries
func (j *Journal) Send(ctx context.Context, payload json.RawMessage) error {
	return j.client.AddReflection(ctx, payload)
}

// Quiz submits quiz scores, queueing them when the server cannot take them
type Quiz struct {
	client *Client
	queue  *queue.Queue
	conn   Connectivity
}

// NewQuiz creates a score submitter. conn may be nil to always try the network.
func NewQuiz(c *Client, q *queue.Queue, conn Connectivity) *Quiz {
	return &Quiz{client: c, queue: q, conn: conn}
}

// SubmitScore posts score, queueing it when it cannot be delivered
func (z *Quiz) SubmitScore(ctx context.Context, score Score) (SubmitResult, error) {
	payload, err := json.Marshal(score)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to encode score: %w", err)
	}
	return SubmitOrQueue(ctx, z.conn, z.queue, payload, z.client.SubmitScore)
}

// Send is the queue sender of quiz scores
func (z *Quiz) Send(ctx context.Context, payload json.RawMessage) error {
	return z.client.SubmitScore(ctx, payload)
}

// SubmitOrQueue delivers payload with send. When conn reports offline, or send fails, the
// payload is stored in q and the error still describes why it was not delivered.
// conn may be nil to always try send first.
func SubmitOrQueue(ctx context.Context, conn Connectivity, q Enqueuer, payload json.RawMessage, send queue.Sender) (SubmitResult, error) {
	var sendErr error
	if conn != nil && !conn.Online() {
		sendErr = ErrOffline
	} else {
		sendErr = send(ctx, payload)
		if sendErr == nil {
			return SubmitResult{}, nil
		}
	}

	item, err := q.Enqueue(ctx, payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("not delivered (%v) and not queued: %w", sendErr, err)
	}
	logrus.Warnf("Saved %s locally, it will sync when the server is reachable: %v", item.Kind, sendErr)
	return SubmitResult{Queued: true, Item: item}, sendErr
}
