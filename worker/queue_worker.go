package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"listsync/queue"
)

// QueueWorker triggers queue drains on a fixed tick. The queue itself
// enforces the minimum interval between real runs, so the tick can be
// shorter than the configured interval without causing extra sends.
type QueueWorker struct {
	Queue  *queue.Queue
	Tick   time.Duration
	Logger *logrus.Logger
}

func NewQueueWorker(q *queue.Queue, tick time.Duration, logger *logrus.Logger) *QueueWorker {
	return &QueueWorker{Queue: q, Tick: tick, Logger: logger}
}

func (qw *QueueWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	qw.Logger.Info("queue worker started")

	ticker := time.NewTicker(qw.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			qw.Logger.Info("queue worker shutting down")
			return
		case <-ticker.C:
			stats, err := qw.Queue.Drain(ctx, false)
			if err != nil {
				sentry.CaptureException(err)
				qw.Logger.Errorf("queue drain failed: %v", err)
				continue
			}
			if stats.Throttled || stats.Selected == 0 {
				continue
			}
			qw.Logger.WithFields(logrus.Fields{
				"selected": stats.Selected,
				"sent":     stats.Sent,
				"deleted":  stats.Deleted,
			}).Info("queue drained")
		}
	}
}
