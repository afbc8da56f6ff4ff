package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listsync/models"
)

// SubscriberStore owns the subscriber table and enforces the status state
// machine. All writes go through here so the blacklist guard cannot be
// bypassed by callers reaching into the table directly.
type SubscriberStore struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewSubscriberStore(db *gorm.DB, logger *logrus.Logger) *SubscriberStore {
	return &SubscriberStore{DB: db, Logger: logger}
}

// FindByEmail returns nil (and no error) when the address is unknown.
func (s *SubscriberStore) FindByEmail(email string) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.DB.Preload("Attributes").
		Where("email = ?", models.NormalizeEmail(email)).
		First(&sub).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Create inserts a new subscriber with a fresh security token. The unique
// index on email absorbs races between concurrent subscribe calls.
func (s *SubscriberStore) Create(email string, userID uint, status models.SubscriberStatus) (*models.Subscriber, error) {
	if userID == 0 {
		userID = 1 // no site account
	}
	email = models.NormalizeEmail(email)
	sub := &models.Subscriber{
		UserID:       userID,
		Email:        email,
		Domain:       models.EmailDomain(email),
		Token:        uuid.NewString(),
		Status:       status,
		RegisteredAt: time.Now(),
	}
	if err := s.DB.Create(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateStatus applies one state-machine transition. It reports false, with
// no mutation, when the subscriber is unknown or when the current status is
// blacklist and force is not set. A forced transition is reserved for
// explicit admin reactivation and for sync reconciliation.
func (s *SubscriberStore) UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error) {
	sub, err := s.FindByEmail(email)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	if sub.Status == models.StatusBlacklist && !force && status != models.StatusBlacklist {
		s.Logger.WithFields(logrus.Fields{
			"email":  sub.Email,
			"status": status.String(),
		}).Debug("status change rejected: subscriber is blacklisted")
		return false, nil
	}
	if sub.Status == status {
		return true, nil
	}
	if err := s.DB.Model(sub).Update("status", status).Error; err != nil {
		return false, err
	}
	return true, nil
}

// ConfirmToken promotes a pending subscriber to active iff the token
// matches. A failed token check never changes status.
func (s *SubscriberStore) ConfirmToken(email, token string) (bool, error) {
	sub, err := s.FindByEmail(email)
	if err != nil {
		return false, err
	}
	if sub == nil || token == "" || sub.Token != token {
		return false, nil
	}
	if sub.Status != models.StatusPending {
		return false, nil
	}
	return s.UpdateStatus(email, models.StatusActive, false)
}

// VerifyToken authorizes unsubscribe links without login.
func (s *SubscriberStore) VerifyToken(email, token string) (bool, error) {
	sub, err := s.FindByEmail(email)
	if err != nil {
		return false, err
	}
	return sub != nil && token != "" && sub.Token == token, nil
}

// UpsertActive is the sync-engine write path: create the subscriber if it is
// new, force its status to active otherwise, and merge the provider's
// attribute map. Forced on purpose: the provider list is authoritative here.
func (s *SubscriberStore) UpsertActive(email string, attrs map[string]string) (*models.Subscriber, error) {
	sub, err := s.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub, err = s.Create(email, 1, models.StatusActive)
		if err != nil {
			return nil, err
		}
	} else if sub.Status != models.StatusActive {
		if _, err := s.UpdateStatus(email, models.StatusActive, true); err != nil {
			return nil, err
		}
		sub.Status = models.StatusActive
	}
	if len(attrs) > 0 {
		if err := s.MergeAttributes(sub.ID, attrs); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// MergeAttributes upserts merge-field rows; existing names are overwritten,
// unmentioned ones kept.
func (s *SubscriberStore) MergeAttributes(subscriberID uint, attrs map[string]string) error {
	for name, value := range attrs {
		row := models.SubscriberAttribute{
			SubscriberID: subscriberID,
			Name:         name,
			Value:        value,
		}
		err := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to merge attribute %s: %w", name, err)
		}
	}
	return nil
}

// Rename moves a subscriber to a new address, keeping status and token. The
// caller is responsible for telling the provider (via Gateway.UpdateMember
// with OldEmail set).
func (s *SubscriberStore) Rename(oldEmail, newEmail string) error {
	newEmail = models.NormalizeEmail(newEmail)
	return s.DB.Model(&models.Subscriber{}).
		Where("email = ?", models.NormalizeEmail(oldEmail)).
		Updates(map[string]interface{}{
			"email":  newEmail,
			"domain": models.EmailDomain(newEmail),
		}).Error
}

func (s *SubscriberStore) Delete(email string) error {
	return s.DB.Where("email = ?", models.NormalizeEmail(email)).
		Delete(&models.Subscriber{}).Error
}

// List pages through local subscribers in id order (push-sync input).
func (s *SubscriberStore) List(offset, limit int) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := s.DB.Preload("Attributes").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// MarkAllUnsubscribed is the mark phase of sync reconciliation.
func (s *SubscriberStore) MarkAllUnsubscribed() error {
	return s.DB.Model(&models.Subscriber{}).
		Where("status <> ?", models.StatusUnsubscribed).
		Update("status", models.StatusUnsubscribed).Error
}

// DeleteAllUnsubscribed is the sweep phase: whatever sync did not reactivate
// is no longer present at the provider.
func (s *SubscriberStore) DeleteAllUnsubscribed() (int64, error) {
	result := s.DB.Where("status = ?", models.StatusUnsubscribed).
		Delete(&models.Subscriber{})
	return result.RowsAffected, result.Error
}
