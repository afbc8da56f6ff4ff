package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/config"
	"listsync/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMailchimp(serverURL string) *Mailchimp {
	p := NewMailchimp(config.ProviderConfig{
		APIKey: "key-us21",
		ListID: "list1",
	}, "News", "news@example.com", 5*time.Second, testLogger())
	p.baseURL = serverURL
	return p
}

func activeSubscriber(email string) *models.Subscriber {
	return &models.Subscriber{Email: email, Status: models.StatusActive}
}

func TestMailchimpSubscribeSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"abc","email_address":"a@example.com","status":"subscribed"}`))
	}))
	defer srv.Close()

	p := newTestMailchimp(srv.URL)
	result := p.Subscribe(context.Background(), activeSubscriber("A@Example.com"), nil)

	assert.Equal(t, SubscribeSuccess, result)
	assert.Equal(t, "/lists/list1/members", gotPath)
	assert.Equal(t, "a@example.com", gotBody["email_address"])
	assert.Equal(t, "subscribed", gotBody["status"])
}

func TestMailchimpSubscribeDuplicateIsExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"title":"Member Exists","detail":"a@example.com is already a list member"}`))
	}))
	defer srv.Close()

	p := newTestMailchimp(srv.URL)
	result := p.Subscribe(context.Background(), activeSubscriber("a@example.com"), nil)

	assert.Equal(t, SubscribeExists, result)
	assert.Empty(t, p.LastError())
}

func TestMailchimpSubscribeInvalidAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"title":"Invalid Resource","detail":"Please provide a valid email address."}`))
	}))
	defer srv.Close()

	p := newTestMailchimp(srv.URL)
	result := p.Subscribe(context.Background(), activeSubscriber("bogus@invalid"), nil)

	assert.Equal(t, SubscribeInvalid, result)
	assert.NotEmpty(t, p.LastError())
}

func TestMailchimpUnsubscribeMissingMemberIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"title":"Resource Not Found"}`))
	}))
	defer srv.Close()

	p := newTestMailchimp(srv.URL)
	assert.True(t, p.Unsubscribe(context.Background(), activeSubscriber("a@example.com"), nil))
}

func TestMailchimpListMembersNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		w.Write([]byte(`{"members":[
			{"id":"m1","email_address":"A@Example.com","status":"subscribed","merge_fields":{"FNAME":"Ann","LNAME":"Lee"}},
			{"id":"m2","email_address":"b@example.com","status":"cleaned"}
		],"total_items":2}`))
	}))
	defer srv.Close()

	p := newTestMailchimp(srv.URL)
	members, err := p.ListMembers(context.Background(), "", Page{Offset: 10, Limit: 5})
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, "a@example.com", members[0].Email)
	assert.Equal(t, models.StatusActive, members[0].Status)
	assert.Equal(t, "Ann", members[0].Attributes["first_name"])
	assert.Equal(t, "Lee", members[0].Attributes["last_name"])

	// Hard-bounced members surface as blacklist, never as mailable.
	assert.Equal(t, models.StatusBlacklist, members[1].Status)
}

func TestMailchimpRenameUsesOldAddressHash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := newTestMailchimp(srv.URL)
	sub := activeSubscriber("new@example.com")
	sub.OldEmail = "old@example.com"

	require.True(t, p.UpdateMember(context.Background(), sub))
	// The member is addressed by the hash of the email Mailchimp still
	// knows, not the new one.
	assert.Equal(t, "/lists/list1/members/"+p.memberHash("old@example.com"), gotPath)
}
