package provider

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"listsync/models"
)

// Internal is the in-process gateway. The local subscriber table is the
// ground truth, so membership calls succeed without touching the network and
// campaign delivery goes through the delivery queue instead of a remote API.
type Internal struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewInternal(db *gorm.DB, logger *logrus.Logger) *Internal {
	return &Internal{db: db, logger: logger}
}

func (p *Internal) Name() string { return NameInternal }

func (p *Internal) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) SubscribeResult {
	return SubscribeSuccess
}

func (p *Internal) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	return true
}

func (p *Internal) UpdateMember(ctx context.Context, sub *models.Subscriber) bool {
	return true
}

func (p *Internal) MemberInfo(ctx context.Context, sub *models.Subscriber) (*MemberInfo, error) {
	var local models.Subscriber
	err := p.db.WithContext(ctx).
		Preload("Attributes").
		Where("email = ?", models.NormalizeEmail(sub.Email)).
		First(&local).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &MemberInfo{
		ID:         local.Email,
		Email:      local.Email,
		Status:     local.Status,
		Attributes: local.AttributeMap(),
	}, nil
}

func (p *Internal) ListMembers(ctx context.Context, listID string, page Page) ([]MemberInfo, error) {
	var subs []models.Subscriber
	err := p.db.WithContext(ctx).
		Preload("Attributes").
		Order("id").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}

	members := make([]MemberInfo, 0, len(subs))
	for i := range subs {
		members = append(members, MemberInfo{
			ID:         subs[i].Email,
			Email:      subs[i].Email,
			Status:     subs[i].Status,
			Attributes: subs[i].AttributeMap(),
		})
	}
	return members, nil
}

// Campaign operations are local-only: the campaign row itself is the remote
// object and the delivery queue performs the actual sends.
func (p *Internal) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	return c.ID, nil
}

func (p *Internal) SendCampaign(ctx context.Context, providerCampaignID string) error {
	return nil
}

func (p *Internal) SendTest(ctx context.Context, providerCampaignID string, to string) error {
	return nil
}

func (p *Internal) DeleteCampaign(ctx context.Context, providerCampaignID string) error {
	return nil
}

func (p *Internal) SupportsSync() bool { return false }

func (p *Internal) Features() []Feature {
	return []Feature{FeatureCampaigns, FeatureSubscribers, FeatureQueue}
}

func (p *Internal) LastError() string { return "" }
