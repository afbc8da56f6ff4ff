package utils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/config"
	"listsync/models"
)

func newTestMailer() *Mailer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewMailer(&config.Config{
		BaseURL:   "https://news.example.com",
		FromEmail: "news@example.com",
		FromName:  "News",
	}, logger)
}

func TestUnsubscribeURLEscapesParams(t *testing.T) {
	m := newTestMailer()
	url := m.UnsubscribeURL("a+b@example.com", "tok/1")
	assert.Equal(t, "https://news.example.com/unsubscribe?email=a%2Bb%40example.com&token=tok%2F1", url)
}

func TestRenderPersonalizesContent(t *testing.T) {
	m := newTestMailer()
	campaign := &models.Campaign{
		ID:      "c1",
		Title:   "Hello",
		Content: "<p>Hi {{.Name}}, manage your subscription: {{.UnsubscribeURL}}</p>",
	}

	body, err := m.render(campaign, Recipient{Email: "ann@example.com", Name: "Ann", Token: "t1"})
	require.NoError(t, err)

	assert.Contains(t, body, "Hi Ann")
	assert.Contains(t, body, m.UnsubscribeURL("ann@example.com", "t1"))
	// Without the layout flag the content stands alone.
	assert.NotContains(t, body, "<!DOCTYPE html>")
}

func TestRenderWrapsInLayoutWithUnsubscribeFooter(t *testing.T) {
	m := newTestMailer()
	campaign := &models.Campaign{
		ID:          "c1",
		Title:       "Hello",
		Content:     "<p>Plain content</p>",
		UseTemplate: true,
	}

	body, err := m.render(campaign, Recipient{Email: "ann@example.com", Token: "t1"})
	require.NoError(t, err)

	assert.Contains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, "<p>Plain content</p>")
	// Every wrapped message carries the personalized unsubscribe link.
	assert.Contains(t, body, m.UnsubscribeURL("ann@example.com", "t1"))
}

func TestRenderRejectsBrokenTemplate(t *testing.T) {
	m := newTestMailer()
	campaign := &models.Campaign{ID: "c1", Title: "Hello", Content: "{{.Name"}

	_, err := m.render(campaign, Recipient{Email: "ann@example.com"})
	assert.Error(t, err)
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ok@example.com"))
	assert.Error(t, ValidateEmail("not-an-email"))
	assert.Error(t, ValidateEmail(""))
}
