package provider

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"listsync/config"
	"listsync/models"
)

// SubscribeResult is the normalized outcome of a provider subscribe call.
// Provider-side duplicate responses are Exists, never an error.
type SubscribeResult int

const (
	SubscribeSuccess SubscribeResult = iota
	SubscribeInvalid
	SubscribeExists
	SubscribeError
)

func (r SubscribeResult) String() string {
	switch r {
	case SubscribeSuccess:
		return "success"
	case SubscribeInvalid:
		return "invalid"
	case SubscribeExists:
		return "exists"
	}
	return "error"
}

// Feature flags advertised by a gateway, consumed by the admin surfaces.
type Feature string

const (
	FeatureCampaigns   Feature = "campaigns"
	FeatureSubscribers Feature = "subscribers"
	FeatureQueue       Feature = "queue"
)

// MemberInfo is the normalized view of a provider-side list member. Attribute
// keys are the engine's internal field names; each adapter translates its
// provider's custom-field names through its attribute map.
type MemberInfo struct {
	ID         string
	Email      string
	Status     models.SubscriberStatus
	Attributes map[string]string
}

// Page addresses one slice of a provider member listing. Listings are finite
// and restartable by offset; Since, when non-zero, limits results to members
// changed after that time (providers lacking the filter ignore it).
type Page struct {
	Offset int
	Limit  int
	Since  int64 // unix seconds, 0 = no filter
}

// Gateway normalizes one list-management provider behind a single contract so
// the state machine, queue and sync engine never branch on provider identity.
// Transport failures surface as error results plus LastError, never a panic.
type Gateway interface {
	Name() string

	Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) SubscribeResult
	Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool
	// UpdateMember pushes attribute changes, handling the case where the
	// subscriber's email changed since the provider last saw it (OldEmail
	// set): rename where the provider supports it, otherwise unsubscribe
	// the old address and subscribe the new one.
	UpdateMember(ctx context.Context, sub *models.Subscriber) bool
	// MemberInfo returns nil (and no error) when the member is absent.
	MemberInfo(ctx context.Context, sub *models.Subscriber) (*MemberInfo, error)
	ListMembers(ctx context.Context, listID string, page Page) ([]MemberInfo, error)

	CreateCampaign(ctx context.Context, c *models.Campaign) (string, error)
	SendCampaign(ctx context.Context, providerCampaignID string) error
	SendTest(ctx context.Context, providerCampaignID string, to string) error
	DeleteCampaign(ctx context.Context, providerCampaignID string) error

	// SupportsSync is false for the internal gateway: it is the ground
	// truth, there is nothing to reconcile against.
	SupportsSync() bool
	Features() []Feature
	LastError() string
}

// Provider names form a closed set; New is the only place they are resolved.
const (
	NameInternal   = "internal"
	NameMailchimp  = "mailchimp"
	NameMailerLite = "mailerlite"
	NameMailjet    = "mailjet"
	NameSendinblue = "sendinblue"
)

// New builds the configured gateway. An unknown name is a configuration
// error and aborts startup rather than degrading silently.
func New(cfg *config.Config, db *gorm.DB, logger *logrus.Logger) (Gateway, error) {
	switch cfg.Provider {
	case NameInternal:
		return NewInternal(db, logger), nil
	case NameMailchimp:
		return NewMailchimp(cfg.Mailchimp, cfg.FromName, cfg.FromEmail, cfg.ProviderTimeout, logger), nil
	case NameMailerLite:
		return NewMailerLite(cfg.MailerLite, cfg.ProviderTimeout, logger), nil
	case NameMailjet:
		return NewMailjet(cfg.Mailjet, cfg.FromName, cfg.FromEmail, cfg.ProviderTimeout, logger), nil
	case NameSendinblue:
		return NewSendinblue(cfg.Sendinblue, cfg.FromName, cfg.FromEmail, cfg.ProviderTimeout, logger), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
