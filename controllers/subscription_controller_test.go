package controller

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/config"
	"listsync/models"
	"listsync/provider"
	"listsync/subscription"
)

type memSubscribers struct {
	byEmail map[string]*models.Subscriber
}

func newMemSubscribers() *memSubscribers {
	return &memSubscribers{byEmail: map[string]*models.Subscriber{}}
}

func (m *memSubscribers) FindByEmail(email string) (*models.Subscriber, error) {
	return m.byEmail[models.NormalizeEmail(email)], nil
}

func (m *memSubscribers) Create(email string, userID uint, status models.SubscriberStatus) (*models.Subscriber, error) {
	sub := &models.Subscriber{Email: models.NormalizeEmail(email), Token: "tok", Status: status}
	sub.ID = uint(len(m.byEmail) + 1)
	m.byEmail[sub.Email] = sub
	return sub, nil
}

func (m *memSubscribers) UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error) {
	sub := m.byEmail[models.NormalizeEmail(email)]
	if sub == nil {
		return false, nil
	}
	if sub.Status == models.StatusBlacklist && !force && status != models.StatusBlacklist {
		return false, nil
	}
	sub.Status = status
	return true, nil
}

func (m *memSubscribers) ConfirmToken(email, token string) (bool, error) {
	sub := m.byEmail[models.NormalizeEmail(email)]
	if sub == nil || token == "" || sub.Token != token || sub.Status != models.StatusPending {
		return false, nil
	}
	sub.Status = models.StatusActive
	return true, nil
}

func (m *memSubscribers) VerifyToken(email, token string) (bool, error) {
	sub := m.byEmail[models.NormalizeEmail(email)]
	return sub != nil && token != "" && sub.Token == token, nil
}

func (m *memSubscribers) MergeAttributes(subscriberID uint, attrs map[string]string) error {
	return nil
}
func (m *memSubscribers) Rename(oldEmail, newEmail string) error { return nil }

type memCampaigns struct{}

func (memCampaigns) Find(id string) (*models.Campaign, error) { return nil, nil }
func (memCampaigns) Save(c *models.Campaign) error            { return nil }

type okGateway struct{}

func (okGateway) Name() string { return "fake" }
func (okGateway) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) provider.SubscribeResult {
	return provider.SubscribeSuccess
}
func (okGateway) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	return true
}
func (okGateway) UpdateMember(ctx context.Context, sub *models.Subscriber) bool { return true }
func (okGateway) MemberInfo(ctx context.Context, sub *models.Subscriber) (*provider.MemberInfo, error) {
	return nil, nil
}
func (okGateway) ListMembers(ctx context.Context, listID string, page provider.Page) ([]provider.MemberInfo, error) {
	return nil, nil
}
func (okGateway) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	return c.ID, nil
}
func (okGateway) SendCampaign(ctx context.Context, providerCampaignID string) error   { return nil }
func (okGateway) SendTest(ctx context.Context, providerCampaignID, to string) error   { return nil }
func (okGateway) DeleteCampaign(ctx context.Context, providerCampaignID string) error { return nil }
func (okGateway) SupportsSync() bool                                                  { return false }
func (okGateway) Features() []provider.Feature                                        { return nil }
func (okGateway) LastError() string                                                   { return "" }

type memQueue struct{}

func (memQueue) Enqueue(campaignID, email, name string) (bool, error) { return true, nil }

func newSubscriptionApp(subs *memSubscribers) *fiber.App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := subscription.NewService(subs, memCampaigns{}, okGateway{}, memQueue{}, &config.Config{}, logger)
	sc := NewSubscriptionController(svc, logger)

	app := fiber.New()
	app.Post("/subscribe", sc.Subscribe)
	app.Get("/confirm", sc.Confirm)
	app.Get("/unsubscribe", sc.Unsubscribe)
	return app
}

func TestSubscribeEndpoint(t *testing.T) {
	subs := newMemSubscribers()
	app := newSubscriptionApp(subs)

	req := httptest.NewRequest("POST", "/subscribe", bytes.NewReader([]byte(`{"email":"ann@example.com"}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, subs.byEmail["ann@example.com"])
	assert.Equal(t, models.StatusActive, subs.byEmail["ann@example.com"].Status)
}

func TestSubscribeEndpointRejectsInvalidEmail(t *testing.T) {
	app := newSubscriptionApp(newMemSubscribers())

	req := httptest.NewRequest("POST", "/subscribe", bytes.NewReader([]byte(`{"email":"nope"}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUnsubscribeEndpointIsNeutral(t *testing.T) {
	subs := newMemSubscribers()
	subs.Create("ann@example.com", 1, models.StatusActive)
	app := newSubscriptionApp(subs)

	// Wrong token: nothing changes, but the response does not say so.
	resp, err := app.Test(httptest.NewRequest("GET", "/unsubscribe?email=ann%40example.com&token=wrong", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusActive, subs.byEmail["ann@example.com"].Status)

	// Right token: same response shape, state changed.
	resp, err = app.Test(httptest.NewRequest("GET", "/unsubscribe?email=ann%40example.com&token=tok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusUnsubscribed, subs.byEmail["ann@example.com"].Status)
}

func TestConfirmEndpoint(t *testing.T) {
	subs := newMemSubscribers()
	subs.Create("bob@example.com", 1, models.StatusPending)
	app := newSubscriptionApp(subs)

	resp, err := app.Test(httptest.NewRequest("GET", "/confirm?email=bob%40example.com&token=tok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusActive, subs.byEmail["bob@example.com"].Status)
}
