// Package reconcile drains the pending write queues once the server is reachable again.
package reconcile

import (
	"context"
	"time"

	"github.com/iTrooz/offline-pwa-proxy/internal/queue"

	"github.com/sirupsen/logrus"
)

// Banner texts
const (
	ToneSynced = "online"
	TextSynced = "Offline entries synced successfully."
)

// Notifier shows a transient message to the user
type Notifier interface {
	Flash(tone, text string, d time.Duration)
}

// Source is one pending queue and the function delivering its items
type Source struct {
	Queue  *queue.Queue
	Sender queue.Sender
}

// Options wire a Reconciler
type Options struct {
	Journal Source
	Scores  Source
	// Refresh reloads the displayed journal list after a full journal drain
	Refresh func(ctx context.Context) error
	// Notifier receives the one-time success message; may be nil
	Notifier Notifier
	// SyncedBannerDelay is how long the success message stays up
	SyncedBannerDelay time.Duration
}

// Report is the outcome of one Run
type Report struct {
	Journal   queue.DrainSummary
	Scores    queue.DrainSummary
	Refreshed bool
}

// Reconciler drains the journal and score queues. Build one per process and share it.
type Reconciler struct {
	opts Options
}

// New creates a reconciler
func New(opts Options) *Reconciler {
	if opts.SyncedBannerDelay <= 0 {
		opts.SyncedBannerDelay = 3 * time.Second
	}
	return &Reconciler{opts: opts}
}

// Run drains every queue once. Queues are independent: a failing journal drain
// does not keep scores from being sent.
func (r *Reconciler) Run(ctx context.Context) Report {
	var report Report

	if r.opts.Journal.Queue != nil {
		summary, err := r.opts.Journal.Queue.DrainAll(ctx, r.opts.Journal.Sender)
		if err != nil {
			logrus.Errorf("Error syncing pending entries: %v", err)
		}
		report.Journal = summary

		if err == nil && summary.Drained() && r.queueEmpty(ctx, r.opts.Journal.Queue) {
			report.Refreshed = r.refresh(ctx)
			if r.opts.Notifier != nil {
				r.opts.Notifier.Flash(ToneSynced, TextSynced, r.opts.SyncedBannerDelay)
			}
		}
	}

	if r.opts.Scores.Queue != nil {
		summary, err := r.opts.Scores.Queue.DrainAll(ctx, r.opts.Scores.Sender)
		if err != nil {
			logrus.Errorf("Error syncing pending scores: %v", err)
		}
		report.Scores = summary
	}

	return report
}

// OnOnline adapts Run to a connectivity subscriber
func (r *Reconciler) OnOnline(ctx context.Context) {
	r.Run(ctx)
}

func (r *Reconciler) queueEmpty(ctx context.Context, q *queue.Queue) bool {
	n, err := q.Len(ctx)
	if err != nil {
		logrus.Errorf("Failed to count pending entries: %v", err)
		return false
	}
	return n == 0
}

func (r *Reconciler) refresh(ctx context.Context) bool {
	if r.opts.Refresh == nil {
		return false
	}
	if err := r.opts.Refresh(ctx); err != nil {
		logrus.Warnf("Failed to refresh journal list after sync: %v", err)
		return false
	}
	return true
}
