package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"listsync/syncer"
)

// SyncWorker runs periodic pull reconciliation against the provider. It is
// only started for gateways that support sync.
type SyncWorker struct {
	Syncer   *syncer.Engine
	Interval time.Duration
	Logger   *logrus.Logger
}

func NewSyncWorker(engine *syncer.Engine, interval time.Duration, logger *logrus.Logger) *SyncWorker {
	return &SyncWorker{Syncer: engine, Interval: interval, Logger: logger}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Info("sync worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Info("sync worker shutting down")
			return
		case <-ticker.C:
			if _, err := sw.Syncer.Pull(ctx); err != nil {
				sentry.CaptureException(err)
				sw.Logger.Errorf("scheduled sync failed: %v", err)
			}
		}
	}
}
