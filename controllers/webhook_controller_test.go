package controller

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/models"
	"listsync/provider"
	"listsync/webhook"
)

type nopLedger struct{}

func (nopLedger) InsertIfAbsent(txn *models.WebhookTxn) (bool, error) { return true, nil }

type nopSubscribers struct{}

func (nopSubscribers) FindByEmail(email string) (*models.Subscriber, error) { return nil, nil }
func (nopSubscribers) UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error) {
	return false, nil
}
func (nopSubscribers) UpsertActive(email string, attrs map[string]string) (*models.Subscriber, error) {
	return &models.Subscriber{Email: email}, nil
}
func (nopSubscribers) MergeAttributes(subscriberID uint, attrs map[string]string) error { return nil }
func (nopSubscribers) Rename(oldEmail, newEmail string) error                           { return nil }

func newWebhookApp(secrets map[string]string) *fiber.App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dispatcher := webhook.NewDispatcher(nopLedger{}, nopSubscribers{}, secrets, logger)
	wc := NewWebhookController(dispatcher, logger)

	app := fiber.New()
	app.Post("/webhook/:provider", wc.Handle)
	return app
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAcceptsSignedDelivery(t *testing.T) {
	app := newWebhookApp(map[string]string{provider.NameSendinblue: "s3cret"})
	body := []byte(`{"event":"unsubscribed","email":"a@example.com","id":1}`)

	req := httptest.NewRequest("POST", "/webhook/sendinblue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signBody("s3cret", body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app := newWebhookApp(map[string]string{provider.NameSendinblue: "s3cret"})
	body := []byte(`{"event":"unsubscribed","email":"a@example.com","id":1}`)

	req := httptest.NewRequest("POST", "/webhook/sendinblue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signBody("forged", body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestWebhookWithoutConfiguredSecretIsAccepted(t *testing.T) {
	app := newWebhookApp(nil)
	body := []byte(`{"event":"unsubscribed","email":"a@example.com","id":1}`)

	req := httptest.NewRequest("POST", "/webhook/sendinblue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
