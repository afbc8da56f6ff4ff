package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// SubscriberStatus is the lifecycle state of a subscriber.
type SubscriberStatus int

const (
	StatusUnsubscribed SubscriberStatus = 0
	StatusPending      SubscriberStatus = 1
	StatusActive       SubscriberStatus = 2
	// StatusBlacklist is sticky: it can only be left via a forced update.
	StatusBlacklist SubscriberStatus = 32
)

func (s SubscriberStatus) String() string {
	switch s {
	case StatusUnsubscribed:
		return "unsubscribed"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusBlacklist:
		return "blacklist"
	}
	return "unknown"
}

// Subscriber represents one mailing-list member
type Subscriber struct {
	gorm.Model
	UserID uint `gorm:"not null;default:1;index" json:"user_id"` // 1 = no site account

	Email    string `gorm:"not null;uniqueIndex" json:"email"` // stored lower-cased
	OldEmail string `gorm:"-" json:"-"`                        // transient, set during address-change reconciliation
	Domain   string `gorm:"index" json:"domain"`               // extracted from email for grouping
	Token    string `gorm:"not null" json:"-"`                 // authorizes unsubscribe/confirm links without login

	Status       SubscriberStatus `gorm:"not null;default:0;index" json:"status"`
	RegisteredAt time.Time        `json:"registered_at"`

	// Relations
	Attributes []SubscriberAttribute `gorm:"foreignKey:SubscriberID" json:"attributes,omitempty"`
}

// SubscriberAttribute is a merge field (first name, last name, ...)
// contributed by other subsystems and mapped to provider-specific names
// at the gateway boundary.
type SubscriberAttribute struct {
	gorm.Model
	SubscriberID uint   `gorm:"not null;uniqueIndex:idx_subscriber_attr" json:"subscriber_id"`
	Name         string `gorm:"not null;uniqueIndex:idx_subscriber_attr" json:"name"`
	Value        string `gorm:"type:text" json:"value"`
}

// NormalizeEmail lower-cases an address so the unique index is effectively
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the domain part of an address, or "" if malformed.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// AttributeMap flattens the attribute rows into a name/value map.
func (s *Subscriber) AttributeMap() map[string]string {
	attrs := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		attrs[a.Name] = a.Value
	}
	return attrs
}
