package models

import (
	"time"

	"gorm.io/gorm"
)

// QueueEntry is one pending delivery of a campaign to a recipient.
// The (campaign_id, email) pair is unique: re-enqueueing the same recipient
// for the same campaign is a no-op, not a duplicate send.
type QueueEntry struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	CampaignID string `gorm:"not null;uniqueIndex:idx_queue_campaign_email;index;size:64" json:"campaign_id"`
	Email      string `gorm:"not null;uniqueIndex:idx_queue_campaign_email" json:"email"`
	Name       string `json:"name"`

	EnqueuedAt time.Time `gorm:"autoCreateTime" json:"enqueued_at"`
}

// QueueState is a single-row table carrying the drain throttle timestamp.
type QueueState struct {
	gorm.Model
	LastRunAt time.Time `json:"last_run_at"`
}
