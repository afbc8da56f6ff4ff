package store

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listsync/models"
)

// QueueStore owns the delivery queue table and the drain throttle timestamp.
type QueueStore struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewQueueStore(db *gorm.DB, logger *logrus.Logger) *QueueStore {
	return &QueueStore{DB: db, Logger: logger}
}

// QueueItem is one selected queue row joined against the subscriber record,
// carrying the token needed for the per-recipient unsubscribe link.
type QueueItem struct {
	EntryID    uint
	CampaignID string
	Email      string
	Name       string
	Token      string
}

// Enqueue inserts one pending delivery. The unique (campaign_id, email)
// index absorbs duplicate enqueues, including races between concurrent
// calls; it reports whether a new row was actually created.
func (q *QueueStore) Enqueue(campaignID, email, name string) (bool, error) {
	entry := models.QueueEntry{
		CampaignID: campaignID,
		Email:      models.NormalizeEmail(email),
		Name:       name,
	}
	result := q.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "email"}},
		DoNothing: true,
	}).Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SelectBatch returns up to limit rows ordered by campaign id so the drain
// loop can control-break on campaign boundaries.
func (q *QueueStore) SelectBatch(limit int) ([]QueueItem, error) {
	var items []QueueItem
	err := q.DB.Table("queue_entries").
		Select("queue_entries.id AS entry_id, queue_entries.campaign_id, queue_entries.email, queue_entries.name, subscribers.token").
		Joins("LEFT JOIN subscribers ON subscribers.email = queue_entries.email AND subscribers.deleted_at IS NULL").
		Order("queue_entries.campaign_id, queue_entries.id").
		Limit(limit).
		Scan(&items).Error
	return items, err
}

// DeleteEntries removes sent rows. Called only after a successful batch
// send; a failed batch stays queued for the next run.
func (q *QueueStore) DeleteEntries(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return q.DB.Where("id IN ?", ids).Delete(&models.QueueEntry{}).Error
}

func (q *QueueStore) Count() (int64, error) {
	var n int64
	err := q.DB.Model(&models.QueueEntry{}).Count(&n).Error
	return n, err
}

// LastRun returns the zero time when no drain has happened yet.
func (q *QueueStore) LastRun() (time.Time, error) {
	var state models.QueueState
	err := q.DB.First(&state).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return state.LastRunAt, nil
}

func (q *QueueStore) SetLastRun(t time.Time) error {
	var state models.QueueState
	err := q.DB.First(&state).Error
	if err == gorm.ErrRecordNotFound {
		return q.DB.Create(&models.QueueState{LastRunAt: t}).Error
	}
	if err != nil {
		return err
	}
	return q.DB.Model(&state).Update("last_run_at", t).Error
}
