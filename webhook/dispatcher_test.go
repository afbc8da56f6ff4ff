package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/models"
	"listsync/provider"
)

type fakeLedger struct {
	seen map[string]bool
}

func newFakeLedger() *fakeLedger { return &fakeLedger{seen: map[string]bool{}} }

func (f *fakeLedger) InsertIfAbsent(txn *models.WebhookTxn) (bool, error) {
	key := txn.Provider + "|" + txn.Type + "|" + txn.TxnID + "|" + txn.TxnDate
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeSubscribers struct {
	byEmail map[string]*models.Subscriber
	merges  int
}

func newFakeSubscribers(emails ...string) *fakeSubscribers {
	f := &fakeSubscribers{byEmail: map[string]*models.Subscriber{}}
	var id uint
	for _, email := range emails {
		id++
		sub := &models.Subscriber{Email: email, Status: models.StatusActive}
		sub.ID = id
		f.byEmail[email] = sub
	}
	return f
}

func (f *fakeSubscribers) FindByEmail(email string) (*models.Subscriber, error) {
	return f.byEmail[models.NormalizeEmail(email)], nil
}

func (f *fakeSubscribers) UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error) {
	sub := f.byEmail[models.NormalizeEmail(email)]
	if sub == nil {
		return false, nil
	}
	if sub.Status == models.StatusBlacklist && !force && status != models.StatusBlacklist {
		return false, nil
	}
	sub.Status = status
	return true, nil
}

func (f *fakeSubscribers) UpsertActive(email string, attrs map[string]string) (*models.Subscriber, error) {
	email = models.NormalizeEmail(email)
	sub := f.byEmail[email]
	if sub == nil {
		sub = &models.Subscriber{Email: email}
		f.byEmail[email] = sub
	}
	sub.Status = models.StatusActive
	return sub, nil
}

func (f *fakeSubscribers) MergeAttributes(subscriberID uint, attrs map[string]string) error {
	f.merges++
	return nil
}

func (f *fakeSubscribers) Rename(oldEmail, newEmail string) error {
	old := models.NormalizeEmail(oldEmail)
	sub := f.byEmail[old]
	if sub == nil {
		return nil
	}
	delete(f.byEmail, old)
	sub.Email = models.NormalizeEmail(newEmail)
	f.byEmail[sub.Email] = sub
	return nil
}

func newTestDispatcher(subs Subscribers, secrets map[string]string) *Dispatcher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewDispatcher(newFakeLedger(), subs, secrets, logger)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	d := newTestDispatcher(newFakeSubscribers(), map[string]string{
		provider.NameSendinblue: "s3cret",
	})
	body := []byte(`{"event":"unsubscribed","email":"a@example.com","id":1}`)

	assert.NoError(t, d.Verify(provider.NameSendinblue, sign("s3cret", body), body))
	assert.ErrorIs(t, d.Verify(provider.NameSendinblue, sign("wrong", body), body), ErrBadSignature)

	// No configured secret means no verification.
	assert.NoError(t, d.Verify(provider.NameMailchimp, "", body))
}

func TestHandleReplayIsIdempotent(t *testing.T) {
	subs := newFakeSubscribers("a@example.com")
	d := newTestDispatcher(subs, nil)
	body := []byte(`{"event":"unsubscribed","email":"a@example.com","id":42,"date":"2026-08-28"}`)

	applied, err := d.Handle(provider.NameSendinblue, "", body)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, models.StatusUnsubscribed, subs.byEmail["a@example.com"].Status)

	// Provider retries the same delivery.
	subs.byEmail["a@example.com"].Status = models.StatusActive
	applied, err = d.Handle(provider.NameSendinblue, "", body)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, models.StatusActive, subs.byEmail["a@example.com"].Status)
}

func TestUnsubscribeUnknownEmailIsNoop(t *testing.T) {
	subs := newFakeSubscribers()
	d := newTestDispatcher(subs, nil)
	body := []byte(`{"event":"unsubscribed","email":"ghost@example.com","id":7}`)

	applied, err := d.Handle(provider.NameSendinblue, "", body)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// No record was created for the unknown address.
	assert.Empty(t, subs.byEmail)
}

func TestHardBounceBlacklists(t *testing.T) {
	subs := newFakeSubscribers("b@example.com")
	d := newTestDispatcher(subs, nil)
	body := []byte(`{"event":"hard_bounce","email":"b@example.com","id":9}`)

	_, err := d.Handle(provider.NameSendinblue, "", body)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlacklist, subs.byEmail["b@example.com"].Status)
}

func TestMailchimpEmailChangeRenames(t *testing.T) {
	subs := newFakeSubscribers("old@example.com")
	d := newTestDispatcher(subs, nil)
	body := []byte(`{"type":"upemail","fired_at":"2026-08-28 10:00:00","data":{"id":"m1","old_email":"old@example.com","new_email":"new@example.com"}}`)

	applied, err := d.Handle(provider.NameMailchimp, "", body)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Nil(t, subs.byEmail["old@example.com"])
	require.NotNil(t, subs.byEmail["new@example.com"])
}

func TestMailchimpSubscribeUpserts(t *testing.T) {
	subs := newFakeSubscribers()
	d := newTestDispatcher(subs, nil)
	body := []byte(`{"type":"subscribe","fired_at":"2026-08-28 10:00:00","data":{"id":"m2","email":"fresh@example.com","merges":{"FNAME":"Fred"}}}`)

	_, err := d.Handle(provider.NameMailchimp, "", body)
	require.NoError(t, err)
	require.NotNil(t, subs.byEmail["fresh@example.com"])
	assert.Equal(t, models.StatusActive, subs.byEmail["fresh@example.com"].Status)
}

func TestParseMailerLiteBatchSynthesizesIDs(t *testing.T) {
	body := []byte(`{"events":[
		{"type":"subscriber.unsubscribe","data":{"subscriber":{"email":"a@example.com"}}},
		{"type":"subscriber.bounced","data":{"subscriber":{"email":"b@example.com"}}}
	]}`)

	events, err := Parse(provider.NameMailerLite, body)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventUnsubscribe, events[0].Type)
	assert.Equal(t, EventBounce, events[1].Type)
	assert.NotEmpty(t, events[0].TxnID)
	assert.NotEqual(t, events[0].TxnID, events[1].TxnID)
}

func TestParseMailjetSkipsSoftBounces(t *testing.T) {
	body := []byte(`[
		{"event":"bounce","email":"soft@example.com","time":1756380000,"MessageID":100,"hard_bounce":false},
		{"event":"bounce","email":"hard@example.com","time":1756380000,"MessageID":101,"hard_bounce":true},
		{"event":"unsub","email":"u@example.com","time":1756380000,"MessageID":102}
	]`)

	events, err := Parse(provider.NameMailjet, body)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventBounce, events[0].Type)
	assert.Equal(t, "hard@example.com", events[0].Email)
	assert.Equal(t, EventUnsubscribe, events[1].Type)
}

// erroringSubscribers fails every status write.
type erroringSubscribers struct {
	*fakeSubscribers
}

func (e erroringSubscribers) UpdateStatus(email string, status models.SubscriberStatus, force bool) (bool, error) {
	return false, errors.New("db down")
}

func TestApplyFailureIsReportedToSentry(t *testing.T) {
	var captured int
	err := sentry.Init(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			captured++
			return nil
		},
	})
	require.NoError(t, err)

	d := newTestDispatcher(erroringSubscribers{newFakeSubscribers("a@example.com")}, nil)
	body := []byte(`{"event":"unsubscribed","email":"a@example.com","id":5}`)

	applied, err := d.Handle(provider.NameSendinblue, "", body)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, 1, captured)
}

func TestParseUnknownProvider(t *testing.T) {
	_, err := Parse("smoke-signals", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
