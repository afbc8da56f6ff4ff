package queue

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"listsync/models"
	"listsync/store"
	"listsync/utils"
)

// Store is the durable queue surface the engine drains.
type Store interface {
	Enqueue(campaignID, email, name string) (bool, error)
	SelectBatch(limit int) ([]store.QueueItem, error)
	DeleteEntries(ids []uint) error
	LastRun() (time.Time, error)
	SetLastRun(t time.Time) error
}

// CampaignFinder resolves the campaign a batch belongs to.
type CampaignFinder interface {
	Find(id string) (*models.Campaign, error)
}

// Mailer is the outbound transport. It returns the recipients actually
// sent; the error is batch-level (connection) only.
type Mailer interface {
	SendCampaign(campaign *models.Campaign, recipients []utils.Recipient) ([]utils.Recipient, error)
}

// Lease serializes drains across overlapping scheduler triggers. A nil
// lease preserves the throttle-only behavior for single-scheduler setups.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// DrainStats reports what one drain invocation did.
type DrainStats struct {
	Throttled bool
	Selected  int
	Sent      int
	Deleted   int
}

// Queue converts (campaign, recipients) into dispatched mail at a bounded
// rate. Batches group by campaign id so one drain never interleaves
// recipients of different campaigns, while every recipient still gets a
// personalized unsubscribe footer.
type Queue struct {
	Store     Store
	Campaigns CampaignFinder
	Mailer    Mailer
	DrainLock Lease // optional

	Interval  time.Duration
	MaxPerRun int
	Logger    *logrus.Logger

	Now func() time.Time // test hook
}

func New(st Store, campaigns CampaignFinder, mailer Mailer, lease Lease, interval time.Duration, maxPerRun int, logger *logrus.Logger) *Queue {
	return &Queue{
		Store:     st,
		Campaigns: campaigns,
		Mailer:    mailer,
		DrainLock: lease,
		Interval:  interval,
		MaxPerRun: maxPerRun,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Enqueue adds one pending delivery; duplicates for the same
// (campaign, email) pair are silently absorbed.
func (q *Queue) Enqueue(campaignID, email, name string) (bool, error) {
	created, err := q.Store.Enqueue(campaignID, email, name)
	if err != nil {
		q.Logger.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"email":       email,
		}).Errorf("enqueue failed: %v", err)
	}
	return created, err
}

// EnqueueCampaign queues a whole recipient set, reporting how many rows
// were actually new.
func (q *Queue) EnqueueCampaign(campaignID string, recipients []utils.Recipient) (int, error) {
	queued := 0
	for _, r := range recipients {
		created, err := q.Store.Enqueue(campaignID, r.Email, r.Name)
		if err != nil {
			return queued, err
		}
		if created {
			queued++
		}
	}
	return queued, nil
}

// Drain sends up to MaxPerRun queued deliveries. Unless forced, it does
// nothing while the configured interval since the previous run has not
// elapsed. The last-run timestamp is advanced before sending so a crash
// mid-send cannot cause an immediate unthrottled re-run.
func (q *Queue) Drain(ctx context.Context, force bool) (DrainStats, error) {
	var stats DrainStats

	if q.DrainLock != nil {
		ok, err := q.DrainLock.Acquire(ctx)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Throttled = true
			return stats, nil
		}
		defer q.DrainLock.Release(ctx)
	}

	now := q.Now()
	last, err := q.Store.LastRun()
	if err != nil {
		return stats, err
	}
	if !force && now.Sub(last) < q.Interval {
		stats.Throttled = true
		return stats, nil
	}
	if err := q.Store.SetLastRun(now); err != nil {
		return stats, err
	}

	items, err := q.Store.SelectBatch(q.MaxPerRun)
	if err != nil {
		return stats, err
	}
	stats.Selected = len(items)
	if len(items) == 0 {
		return stats, nil
	}

	// Control-break on campaign id: flush each campaign's batch before the
	// next one begins.
	var (
		current string
		batch   []store.QueueItem
	)
	for _, item := range items {
		if current != "" && item.CampaignID != current {
			q.flush(current, batch, &stats)
			batch = batch[:0]
		}
		current = item.CampaignID
		batch = append(batch, item)
	}
	q.flush(current, batch, &stats)

	return stats, nil
}

func (q *Queue) flush(campaignID string, batch []store.QueueItem, stats *DrainStats) {
	if len(batch) == 0 {
		return
	}

	campaign, err := q.Campaigns.Find(campaignID)
	if err != nil {
		q.Logger.WithField("campaign_id", campaignID).Errorf("campaign lookup failed: %v", err)
		return
	}
	if campaign == nil {
		// Orphan rows would wedge the queue forever; drop them.
		q.Logger.WithField("campaign_id", campaignID).Warn("dropping queue rows for deleted campaign")
		q.deleteItems(batch, stats)
		return
	}

	entryByEmail := make(map[string]uint, len(batch))
	recipients := make([]utils.Recipient, 0, len(batch))
	var orphans []store.QueueItem
	for _, item := range batch {
		if item.Token == "" {
			// Subscriber deleted after enqueue; nothing to personalize.
			orphans = append(orphans, item)
			continue
		}
		entryByEmail[item.Email] = item.EntryID
		recipients = append(recipients, utils.Recipient{
			Email: item.Email,
			Name:  item.Name,
			Token: item.Token,
		})
	}
	q.deleteItems(orphans, stats)

	sent, err := q.Mailer.SendCampaign(campaign, recipients)
	if err != nil {
		// Batch-level failure: rows stay queued and the next run retries
		// them (at-least-once delivery).
		sentry.CaptureException(err)
		q.Logger.WithField("campaign_id", campaignID).Errorf("batch send failed: %v", err)
		return
	}
	stats.Sent += len(sent)

	ids := make([]uint, 0, len(sent))
	for _, r := range sent {
		if id, ok := entryByEmail[r.Email]; ok {
			ids = append(ids, id)
		}
	}
	if err := q.Store.DeleteEntries(ids); err != nil {
		q.Logger.WithField("campaign_id", campaignID).Errorf("failed to delete sent rows: %v", err)
		return
	}
	stats.Deleted += len(ids)
}

func (q *Queue) deleteItems(items []store.QueueItem, stats *DrainStats) {
	if len(items) == 0 {
		return
	}
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.EntryID)
	}
	if err := q.Store.DeleteEntries(ids); err != nil {
		q.Logger.Errorf("failed to delete orphan rows: %v", err)
		return
	}
	stats.Deleted += len(ids)
}
