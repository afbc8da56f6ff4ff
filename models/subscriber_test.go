package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ann@example.com", NormalizeEmail("  Ann@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", EmailDomain("ann@Example.com"))
	assert.Equal(t, "example.com", EmailDomain("a@b@Example.com"))
	assert.Equal(t, "", EmailDomain("no-at-sign"))
	assert.Equal(t, "", EmailDomain("trailing@"))
}

func TestAttributeMap(t *testing.T) {
	sub := &Subscriber{
		Attributes: []SubscriberAttribute{
			{Name: "first_name", Value: "Ann"},
			{Name: "last_name", Value: "Lee"},
		},
	}
	attrs := sub.AttributeMap()
	assert.Equal(t, "Ann", attrs["first_name"])
	assert.Equal(t, "Lee", attrs["last_name"])
	assert.Len(t, attrs, 2)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "unsubscribed", StatusUnsubscribed.String())
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "active", StatusActive.String())
	assert.Equal(t, "blacklist", StatusBlacklist.String())
	assert.Equal(t, "unknown", SubscriberStatus(99).String())
}
