package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"listsync/models"
)

// Event is one normalized provider notification.
type Event struct {
	Type       string // subscribe, unsubscribe, profile, email_changed, bounce, spam
	Email      string
	NewEmail   string // email_changed only
	TxnID      string
	TxnDate    string
	Attributes map[string]string
	Raw        string // original payload slice, kept for the ledger audit trail
}

const (
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventProfile      = "profile"
	EventEmailChanged = "email_changed"
	EventBounce       = "bounce"
	EventSpam         = "spam"
)

var (
	ErrBadSignature    = errors.New("webhook signature verification failed")
	ErrUnknownProvider = errors.New("unknown webhook provider")
)

// Ledger is the dedup surface: an atomic insert-if-absent keyed by
// (provider, type, txn_id, txn_date).
type Ledger interface {
	InsertIfAbsent(txn *models.WebhookTxn) (bool, error)
}

// Subscribers is the slice of the subscriber store webhook effects touch.
type Subscribers interface {
	FindByEmail(email string) (*models.Subscriber, error)
	UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error)
	UpsertActive(email string, attrs map[string]string) (*models.Subscriber, error)
	MergeAttributes(subscriberID uint, attrs map[string]string) error
	Rename(oldEmail, newEmail string) error
}

// Dispatcher authenticates provider webhooks, dedups them through the
// ledger and applies their effect to the subscriber store. Replays of an
// already-ledgered event return with no side effects.
type Dispatcher struct {
	Ledger      Ledger
	Subscribers Subscribers
	Secrets     map[string]string // provider name -> shared HMAC secret
	Logger      *logrus.Logger
}

func NewDispatcher(ledger Ledger, subs Subscribers, secrets map[string]string, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		Ledger:      ledger,
		Subscribers: subs,
		Secrets:     secrets,
		Logger:      logger,
	}
}

// Verify checks the hex HMAC-SHA256 signature of the raw body against the
// provider's shared secret. Providers configured without a secret are
// trusted by construction (synthetic test payloads).
func (d *Dispatcher) Verify(providerName, signature string, body []byte) error {
	secret := d.Secrets[providerName]
	if secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Handle processes one webhook delivery end to end and reports how many of
// its events actually mutated state (deduped replays count zero).
func (d *Dispatcher) Handle(providerName, signature string, body []byte) (int, error) {
	if err := d.Verify(providerName, signature, body); err != nil {
		return 0, err
	}

	events, err := Parse(providerName, body)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, event := range events {
		txn := &models.WebhookTxn{
			Provider: providerName,
			Type:     event.Type,
			TxnID:    event.TxnID,
			TxnDate:  event.TxnDate,
			Payload:  event.Raw,
		}
		first, err := d.Ledger.InsertIfAbsent(txn)
		if err != nil {
			return applied, fmt.Errorf("ledger insert failed: %w", err)
		}
		if !first {
			d.Logger.WithFields(logrus.Fields{
				"provider": providerName,
				"type":     event.Type,
				"txn_id":   event.TxnID,
			}).Debug("duplicate webhook event skipped")
			continue
		}
		if err := d.apply(providerName, event); err != nil {
			sentry.CaptureException(err)
			d.Logger.WithFields(logrus.Fields{
				"provider": providerName,
				"type":     event.Type,
				"email":    event.Email,
			}).Errorf("webhook apply failed: %v", err)
			continue
		}
		applied++
	}
	return applied, nil
}

func (d *Dispatcher) apply(providerName string, event Event) error {
	switch event.Type {
	case EventSubscribe:
		_, err := d.Subscribers.UpsertActive(event.Email, event.Attributes)
		return err

	case EventUnsubscribe, EventSpam:
		// Never create a record for an unknown address: an unsubscribe
		// for an email not present locally is a no-op.
		sub, err := d.Subscribers.FindByEmail(event.Email)
		if err != nil || sub == nil {
			return err
		}
		_, err = d.Subscribers.UpdateStatus(event.Email, models.StatusUnsubscribed, false)
		return err

	case EventBounce:
		sub, err := d.Subscribers.FindByEmail(event.Email)
		if err != nil || sub == nil {
			return err
		}
		_, err = d.Subscribers.UpdateStatus(event.Email, models.StatusBlacklist, false)
		return err

	case EventProfile:
		sub, err := d.Subscribers.FindByEmail(event.Email)
		if err != nil || sub == nil {
			return err
		}
		if len(event.Attributes) == 0 {
			return nil
		}
		return d.Subscribers.MergeAttributes(sub.ID, event.Attributes)

	case EventEmailChanged:
		sub, err := d.Subscribers.FindByEmail(event.Email)
		if err != nil || sub == nil {
			return err
		}
		return d.Subscribers.Rename(event.Email, event.NewEmail)
	}

	d.Logger.WithFields(logrus.Fields{
		"provider": providerName,
		"type":     event.Type,
	}).Debug("ignoring webhook event type")
	return nil
}
