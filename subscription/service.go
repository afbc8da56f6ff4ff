package subscription

import (
	"context"

	"github.com/sirupsen/logrus"

	"listsync/config"
	"listsync/models"
	"listsync/provider"
	"listsync/utils"
)

// Outcome is the user-visible result of a subscribe attempt.
type Outcome int

const (
	SubSuccess Outcome = iota
	SubPending
	SubExists
	SubBlacklist
	SubInvalid
	SubError
)

func (o Outcome) String() string {
	switch o {
	case SubSuccess:
		return "subscribed"
	case SubPending:
		return "pending confirmation"
	case SubExists:
		return "already subscribed"
	case SubBlacklist:
		return "address is blocked"
	case SubInvalid:
		return "invalid address"
	}
	return "subscription failed"
}

// ConfirmCampaignID is the reserved campaign that carries double-opt-in
// confirmation requests through the ordinary delivery queue.
const ConfirmCampaignID = "opt-in-confirm"

const confirmContent = `<p>Hello {{.Name}},</p>
<p>Please confirm your subscription by following this link:</p>
<p><a href="{{.ConfirmURL}}">{{.ConfirmURL}}</a></p>
<p>If you did not request this subscription you can ignore this message.</p>`

// Enqueuer is the slice of the delivery queue the service needs.
type Enqueuer interface {
	Enqueue(campaignID, email, name string) (bool, error)
}

// SubscriberStore is the slice of the subscriber store the state machine
// drives.
type SubscriberStore interface {
	FindByEmail(email string) (*models.Subscriber, error)
	Create(email string, userID uint, status models.SubscriberStatus) (*models.Subscriber, error)
	UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error)
	ConfirmToken(email, token string) (bool, error)
	VerifyToken(email, token string) (bool, error)
	MergeAttributes(subscriberID uint, attrs map[string]string) error
	Rename(oldEmail, newEmail string) error
}

// CampaignStore resolves and creates the reserved confirmation campaign.
type CampaignStore interface {
	Find(id string) (*models.Campaign, error)
	Save(campaign *models.Campaign) error
}

// Service drives the subscriber state machine: it decides locally first
// (fail fast on blacklist, short-circuit on already-active) and only then
// talks to the configured provider through the gateway.
type Service struct {
	Subscribers SubscriberStore
	Campaigns   CampaignStore
	Gateway     provider.Gateway
	Queue       Enqueuer
	Config      *config.Config
	Logger      *logrus.Logger
}

func NewService(subs SubscriberStore, campaigns CampaignStore, gw provider.Gateway, queue Enqueuer, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		Subscribers: subs,
		Campaigns:   campaigns,
		Gateway:     gw,
		Queue:       queue,
		Config:      cfg,
		Logger:      logger,
	}
}

// Subscribe runs the new-subscription flow for one address.
func (s *Service) Subscribe(ctx context.Context, email string, attrs map[string]string, userID uint) Outcome {
	if err := utils.ValidateEmail(email); err != nil {
		return SubInvalid
	}
	email = models.NormalizeEmail(email)

	existing, err := s.Subscribers.FindByEmail(email)
	if err != nil {
		s.Logger.WithField("email", email).Errorf("subscribe lookup failed: %v", err)
		return SubError
	}

	// Blacklisted addresses are rejected before any provider call is made:
	// remote quota is not spent on an address that can never be mailed.
	if existing != nil && existing.Status == models.StatusBlacklist {
		return SubBlacklist
	}
	if existing != nil && existing.Status == models.StatusActive {
		return SubExists
	}

	target := models.StatusActive
	if s.Config.DoubleOptIn {
		target = models.StatusPending
	}

	sub := existing
	if sub == nil {
		sub, err = s.Subscribers.Create(email, userID, target)
		if err != nil {
			s.Logger.WithField("email", email).Errorf("subscribe create failed: %v", err)
			return SubError
		}
	} else {
		if _, err := s.Subscribers.UpdateStatus(email, target, false); err != nil {
			return SubError
		}
		sub.Status = target
	}
	if len(attrs) > 0 {
		if err := s.Subscribers.MergeAttributes(sub.ID, attrs); err != nil {
			s.Logger.WithField("email", email).Warnf("attribute merge failed: %v", err)
		}
		for name, value := range attrs {
			sub.Attributes = append(sub.Attributes, models.SubscriberAttribute{
				SubscriberID: sub.ID, Name: name, Value: value,
			})
		}
	}

	if target == models.StatusPending {
		if err := s.queueConfirmation(sub); err != nil {
			s.Logger.WithField("email", email).Errorf("failed to queue confirmation: %v", err)
			return SubError
		}
		return SubPending
	}

	switch s.Gateway.Subscribe(ctx, sub, nil) {
	case provider.SubscribeInvalid:
		return SubInvalid
	case provider.SubscribeError:
		s.Logger.WithFields(logrus.Fields{
			"email":    email,
			"provider": s.Gateway.Name(),
		}).Errorf("provider subscribe failed: %s", s.Gateway.LastError())
		return SubError
	}
	return SubSuccess
}

// Confirm promotes a pending subscriber iff the token matches; a wrong
// token is a silent authorization failure.
func (s *Service) Confirm(ctx context.Context, email, token string) bool {
	ok, err := s.Subscribers.ConfirmToken(email, token)
	if err != nil {
		s.Logger.WithField("email", email).Errorf("confirm failed: %v", err)
		return false
	}
	if !ok {
		return false
	}
	if sub, err := s.Subscribers.FindByEmail(email); err == nil && sub != nil {
		if s.Gateway.Subscribe(ctx, sub, nil) == provider.SubscribeError {
			s.Logger.WithField("email", email).Warnf("provider subscribe after confirm failed: %s", s.Gateway.LastError())
		}
	}
	return true
}

// Unsubscribe moves a subscriber to unsubscribed and notifies the provider.
// Unless forced (admin action), the request must carry the subscriber's
// token; a failed token check is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, email, token string, force bool) bool {
	if !force {
		ok, err := s.Subscribers.VerifyToken(email, token)
		if err != nil || !ok {
			return false
		}
	}
	changed, err := s.Subscribers.UpdateStatus(email, models.StatusUnsubscribed, false)
	if err != nil || !changed {
		return false
	}
	sub, err := s.Subscribers.FindByEmail(email)
	if err != nil || sub == nil {
		return true
	}
	if !s.Gateway.Unsubscribe(ctx, sub, nil) {
		s.Logger.WithFields(logrus.Fields{
			"email":    email,
			"provider": s.Gateway.Name(),
		}).Warnf("provider unsubscribe failed: %s", s.Gateway.LastError())
	}
	return true
}

// Blacklist marks an address as never-mail. Blacklist is reachable from any
// state and exits only via Reactivate.
func (s *Service) Blacklist(ctx context.Context, email string) bool {
	changed, err := s.Subscribers.UpdateStatus(email, models.StatusBlacklist, false)
	if err != nil || !changed {
		return false
	}
	if sub, err := s.Subscribers.FindByEmail(email); err == nil && sub != nil {
		s.Gateway.Unsubscribe(ctx, sub, nil)
	}
	return true
}

// Reactivate is the explicit admin escape hatch out of blacklist.
func (s *Service) Reactivate(ctx context.Context, email string) bool {
	changed, err := s.Subscribers.UpdateStatus(email, models.StatusActive, true)
	if err != nil || !changed {
		return false
	}
	if sub, err := s.Subscribers.FindByEmail(email); err == nil && sub != nil {
		s.Gateway.Subscribe(ctx, sub, nil)
	}
	return true
}

// ChangeEmail renames a subscriber locally and propagates the rename to the
// provider (rename endpoint where supported, unsubscribe/resubscribe
// otherwise — the gateway decides).
func (s *Service) ChangeEmail(ctx context.Context, oldEmail, newEmail string) bool {
	if err := utils.ValidateEmail(newEmail); err != nil {
		return false
	}
	sub, err := s.Subscribers.FindByEmail(oldEmail)
	if err != nil || sub == nil {
		return false
	}
	if err := s.Subscribers.Rename(oldEmail, newEmail); err != nil {
		s.Logger.WithField("email", oldEmail).Errorf("rename failed: %v", err)
		return false
	}
	sub.OldEmail = models.NormalizeEmail(oldEmail)
	sub.Email = models.NormalizeEmail(newEmail)
	if !s.Gateway.UpdateMember(ctx, sub) {
		s.Logger.WithFields(logrus.Fields{
			"email":    newEmail,
			"provider": s.Gateway.Name(),
		}).Warnf("provider rename failed: %s", s.Gateway.LastError())
	}
	return true
}

// queueConfirmation pushes the double-opt-in request through the delivery
// queue against the reserved confirmation campaign.
func (s *Service) queueConfirmation(sub *models.Subscriber) error {
	campaign, err := s.Campaigns.Find(ConfirmCampaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		campaign = &models.Campaign{
			ID:          ConfirmCampaignID,
			Title:       "Please confirm your subscription",
			Content:     confirmContent,
			UseTemplate: true,
		}
		if err := s.Campaigns.Save(campaign); err != nil {
			return err
		}
	}
	name := sub.AttributeMap()["first_name"]
	_, err = s.Queue.Enqueue(ConfirmCampaignID, sub.Email, name)
	return err
}
