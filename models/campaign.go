package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign represents one mailing (subject + body). It may correspond to a
// distinct remote campaign object per provider (see CampaignProvider).
type Campaign struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title   string `gorm:"not null" json:"title" validate:"required"`
	Content string `gorm:"type:text" json:"content" validate:"required"`

	Owner       string `json:"owner"`
	AccessGroup string `json:"access_group"`
	ExpireDays  int    `gorm:"default:0" json:"expire_days"`
	UseTemplate bool   `gorm:"default:true" json:"use_template"` // wrap content in the internal template

	LastSentAt *time.Time `json:"last_sent_at"`

	// Relations
	ProviderMappings []CampaignProvider `gorm:"foreignKey:CampaignID" json:"provider_mappings,omitempty"`
}

// CampaignProvider maps a local campaign to the remote campaign object a
// provider created for it. At most one row per (campaign, provider); the row
// is created lazily on the first CreateCampaign call and reused afterwards so
// repeated sends never spawn duplicate remote campaigns.
type CampaignProvider struct {
	gorm.Model
	CampaignID string `gorm:"not null;uniqueIndex:idx_campaign_provider;size:64" json:"campaign_id"`
	Provider   string `gorm:"not null;uniqueIndex:idx_campaign_provider" json:"provider"`

	ProviderCampaignID string `gorm:"not null" json:"provider_campaign_id"`
	Tested             bool   `gorm:"default:false" json:"tested"`
}
