package store

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"listsync/models"
	"listsync/utils"
)

// CampaignStore owns campaigns and their per-provider remote mappings.
type CampaignStore struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewCampaignStore(db *gorm.DB, logger *logrus.Logger) *CampaignStore {
	return &CampaignStore{DB: db, Logger: logger}
}

func (c *CampaignStore) Find(id string) (*models.Campaign, error) {
	var campaign models.Campaign
	err := c.DB.Preload("ProviderMappings").First(&campaign, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Save validates required fields before any state mutation.
func (c *CampaignStore) Save(campaign *models.Campaign) error {
	if err := utils.ValidateStruct(campaign); err != nil {
		return err
	}
	return c.DB.Save(campaign).Error
}

func (c *CampaignStore) Delete(id string) error {
	if err := c.DB.Where("campaign_id = ?", id).Delete(&models.CampaignProvider{}).Error; err != nil {
		return err
	}
	return c.DB.Delete(&models.Campaign{}, "id = ?", id).Error
}

func (c *CampaignStore) TouchLastSent(id string) error {
	return c.DB.Model(&models.Campaign{}).
		Where("id = ?", id).
		Update("last_sent_at", time.Now()).Error
}

// Mapping returns the (campaign, provider) row, or nil when the campaign has
// not been pushed to that provider yet.
func (c *CampaignStore) Mapping(campaignID, provider string) (*models.CampaignProvider, error) {
	var mapping models.CampaignProvider
	err := c.DB.Where("campaign_id = ? AND provider = ?", campaignID, provider).
		First(&mapping).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// SaveMapping records the remote campaign id so later send/test/delete calls
// reuse the remote object instead of creating duplicates.
func (c *CampaignStore) SaveMapping(campaignID, provider, providerCampaignID string) (*models.CampaignProvider, error) {
	mapping := &models.CampaignProvider{
		CampaignID:         campaignID,
		Provider:           provider,
		ProviderCampaignID: providerCampaignID,
	}
	if err := c.DB.Create(mapping).Error; err != nil {
		return nil, err
	}
	return mapping, nil
}

func (c *CampaignStore) MarkTested(campaignID, provider string) error {
	return c.DB.Model(&models.CampaignProvider{}).
		Where("campaign_id = ? AND provider = ?", campaignID, provider).
		Update("tested", true).Error
}

func (c *CampaignStore) DeleteMapping(campaignID, provider string) error {
	return c.DB.Where("campaign_id = ? AND provider = ?", campaignID, provider).
		Delete(&models.CampaignProvider{}).Error
}
