package syncer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"listsync/models"
	"listsync/provider"
)

// SubscriberStore is the slice of the subscriber store reconciliation needs.
type SubscriberStore interface {
	MarkAllUnsubscribed() error
	UpsertActive(email string, attrs map[string]string) (*models.Subscriber, error)
	DeleteAllUnsubscribed() (int64, error)
	List(offset, limit int) ([]models.Subscriber, error)
}

// PullStats reports one mark-sweep reconciliation run.
type PullStats struct {
	Active  int
	Removed int64
	Pages   int
}

// PushStats reports one outward push run.
type PushStats struct {
	Pushed int
	Failed int
}

// Engine reconciles local subscriber state against the provider's
// authoritative member list. Pull is brute-force mark-sweep: it converges in
// one pass without per-record diffing, at the cost of O(members) network
// calls and a transient window where local status is wrong mid-sync.
type Engine struct {
	Gateway     provider.Gateway
	Subscribers SubscriberStore
	PageSize    int
	Logger      *logrus.Logger
}

func New(gw provider.Gateway, subs SubscriberStore, pageSize int, logger *logrus.Logger) *Engine {
	return &Engine{
		Gateway:     gw,
		Subscribers: subs,
		PageSize:    pageSize,
		Logger:      logger,
	}
}

// Pull makes local state converge to the provider's: mark everything
// unsubscribed, reactivate every member the provider reports active, sweep
// whatever was not reactivated.
func (e *Engine) Pull(ctx context.Context) (PullStats, error) {
	var stats PullStats
	if !e.Gateway.SupportsSync() {
		return stats, fmt.Errorf("provider %s does not support sync", e.Gateway.Name())
	}

	if err := e.Subscribers.MarkAllUnsubscribed(); err != nil {
		return stats, err
	}

	offset := 0
	for {
		members, err := e.Gateway.ListMembers(ctx, "", provider.Page{
			Offset: offset,
			Limit:  e.PageSize,
		})
		if err != nil {
			return stats, fmt.Errorf("member listing failed at offset %d: %w", offset, err)
		}
		stats.Pages++

		for _, m := range members {
			if m.Status != models.StatusActive {
				continue
			}
			if _, err := e.Subscribers.UpsertActive(m.Email, m.Attributes); err != nil {
				e.Logger.WithField("email", m.Email).Errorf("sync upsert failed: %v", err)
				continue
			}
			stats.Active++
		}

		// A short page terminates the listing.
		if len(members) < e.PageSize {
			break
		}
		offset += e.PageSize
	}

	removed, err := e.Subscribers.DeleteAllUnsubscribed()
	if err != nil {
		return stats, err
	}
	stats.Removed = removed

	e.Logger.WithFields(logrus.Fields{
		"provider": e.Gateway.Name(),
		"active":   stats.Active,
		"removed":  stats.Removed,
		"pages":    stats.Pages,
	}).Info("sync pull completed")
	return stats, nil
}

// Push performs one subscribe-or-update call per local active record.
// Per-record failures are logged and skipped, never fatal.
func (e *Engine) Push(ctx context.Context) (PushStats, error) {
	var stats PushStats
	if !e.Gateway.SupportsSync() {
		return stats, fmt.Errorf("provider %s does not support sync", e.Gateway.Name())
	}

	offset := 0
	for {
		subs, err := e.Subscribers.List(offset, e.PageSize)
		if err != nil {
			return stats, err
		}
		for i := range subs {
			if subs[i].Status != models.StatusActive {
				continue
			}
			switch e.Gateway.Subscribe(ctx, &subs[i], nil) {
			case provider.SubscribeSuccess:
				stats.Pushed++
			case provider.SubscribeExists:
				if e.Gateway.UpdateMember(ctx, &subs[i]) {
					stats.Pushed++
				} else {
					stats.Failed++
					e.Logger.WithField("email", subs[i].Email).
						Warnf("push update failed: %s", e.Gateway.LastError())
				}
			default:
				stats.Failed++
				e.Logger.WithField("email", subs[i].Email).
					Warnf("push subscribe failed: %s", e.Gateway.LastError())
			}
		}
		if len(subs) < e.PageSize {
			break
		}
		offset += e.PageSize
	}

	e.Logger.WithFields(logrus.Fields{
		"provider": e.Gateway.Name(),
		"pushed":   stats.Pushed,
		"failed":   stats.Failed,
	}).Info("sync push completed")
	return stats, nil
}
