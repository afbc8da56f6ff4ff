package syncer

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/models"
	"listsync/provider"
)

type fakeStore struct {
	subs map[string]*models.Subscriber
}

func newFakeStore(active ...string) *fakeStore {
	f := &fakeStore{subs: map[string]*models.Subscriber{}}
	for _, email := range active {
		f.subs[email] = &models.Subscriber{Email: email, Status: models.StatusActive}
	}
	return f
}

func (f *fakeStore) MarkAllUnsubscribed() error {
	for _, sub := range f.subs {
		sub.Status = models.StatusUnsubscribed
	}
	return nil
}

func (f *fakeStore) UpsertActive(email string, attrs map[string]string) (*models.Subscriber, error) {
	sub := f.subs[email]
	if sub == nil {
		sub = &models.Subscriber{Email: email}
		f.subs[email] = sub
	}
	sub.Status = models.StatusActive
	return sub, nil
}

func (f *fakeStore) DeleteAllUnsubscribed() (int64, error) {
	var removed int64
	for email, sub := range f.subs {
		if sub.Status == models.StatusUnsubscribed {
			delete(f.subs, email)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeStore) List(offset, limit int) ([]models.Subscriber, error) {
	// Deterministic order not needed for these tests; return everything in
	// one page by honoring offset against a snapshot.
	all := make([]models.Subscriber, 0, len(f.subs))
	for _, sub := range f.subs {
		all = append(all, *sub)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// fakeGateway serves a fixed member list in pages.
type fakeGateway struct {
	members        []provider.MemberInfo
	supportsSync   bool
	subscribeCalls int
	updateCalls    int
	existing       map[string]bool // emails that report Exists on subscribe
}

func (g *fakeGateway) Name() string { return "fake" }
func (g *fakeGateway) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) provider.SubscribeResult {
	g.subscribeCalls++
	if g.existing[sub.Email] {
		return provider.SubscribeExists
	}
	return provider.SubscribeSuccess
}
func (g *fakeGateway) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	return true
}
func (g *fakeGateway) UpdateMember(ctx context.Context, sub *models.Subscriber) bool {
	g.updateCalls++
	return true
}
func (g *fakeGateway) MemberInfo(ctx context.Context, sub *models.Subscriber) (*provider.MemberInfo, error) {
	return nil, nil
}
func (g *fakeGateway) ListMembers(ctx context.Context, listID string, page provider.Page) ([]provider.MemberInfo, error) {
	if page.Offset >= len(g.members) {
		return nil, nil
	}
	end := page.Offset + page.Limit
	if end > len(g.members) {
		end = len(g.members)
	}
	return g.members[page.Offset:end], nil
}
func (g *fakeGateway) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	return c.ID, nil
}
func (g *fakeGateway) SendCampaign(ctx context.Context, providerCampaignID string) error { return nil }
func (g *fakeGateway) SendTest(ctx context.Context, providerCampaignID, to string) error { return nil }
func (g *fakeGateway) DeleteCampaign(ctx context.Context, providerCampaignID string) error {
	return nil
}
func (g *fakeGateway) SupportsSync() bool           { return g.supportsSync }
func (g *fakeGateway) Features() []provider.Feature { return nil }
func (g *fakeGateway) LastError() string            { return "" }

func newTestEngine(gw *fakeGateway, st *fakeStore, pageSize int) *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(gw, st, pageSize, logger)
}

func member(email string, status models.SubscriberStatus) provider.MemberInfo {
	return provider.MemberInfo{ID: email, Email: email, Status: status}
}

func TestPullConvergesToProviderState(t *testing.T) {
	// Local: a (stays), b (gone remotely), c is new remotely.
	st := newFakeStore("a@example.com", "b@example.com")
	gw := &fakeGateway{
		supportsSync: true,
		members: []provider.MemberInfo{
			member("a@example.com", models.StatusActive),
			member("c@example.com", models.StatusActive),
			member("d@example.com", models.StatusUnsubscribed), // not active remotely
		},
	}

	stats, err := newTestEngine(gw, st, 10).Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, int64(1), stats.Removed)

	require.Len(t, st.subs, 2)
	assert.Equal(t, models.StatusActive, st.subs["a@example.com"].Status)
	assert.Equal(t, models.StatusActive, st.subs["c@example.com"].Status)
	assert.Nil(t, st.subs["b@example.com"])
	assert.Nil(t, st.subs["d@example.com"])
}

func TestPullIsIdempotentOnUnchangedRemote(t *testing.T) {
	st := newFakeStore("a@example.com")
	gw := &fakeGateway{
		supportsSync: true,
		members: []provider.MemberInfo{
			member("a@example.com", models.StatusActive),
			member("b@example.com", models.StatusActive),
		},
	}
	engine := newTestEngine(gw, st, 10)

	first, err := engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Active)

	snapshot := make(map[string]models.SubscriberStatus, len(st.subs))
	for email, sub := range st.subs {
		snapshot[email] = sub.Status
	}

	// Same remote list again: the second run must not add, remove or
	// demote anything.
	second, err := engine.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Active, second.Active)
	assert.Zero(t, second.Removed)

	require.Len(t, st.subs, len(snapshot))
	for email, status := range snapshot {
		require.NotNil(t, st.subs[email], email)
		assert.Equal(t, status, st.subs[email].Status, email)
	}
}

func TestPullPagesUntilShortPage(t *testing.T) {
	var members []provider.MemberInfo
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		members = append(members, member(email, models.StatusActive))
	}
	gw := &fakeGateway{supportsSync: true, members: members}
	st := newFakeStore()

	stats, err := newTestEngine(gw, st, 2).Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Active)
	assert.Equal(t, 3, stats.Pages) // 2 + 2 + 1, the short page terminates
	assert.Len(t, st.subs, 5)
}

func TestPullRequiresSyncSupport(t *testing.T) {
	gw := &fakeGateway{supportsSync: false}
	_, err := newTestEngine(gw, newFakeStore(), 10).Pull(context.Background())
	assert.Error(t, err)
}

func TestPushUpdatesExistingMembers(t *testing.T) {
	st := newFakeStore("a@example.com", "b@example.com")
	gw := &fakeGateway{
		supportsSync: true,
		existing:     map[string]bool{"b@example.com": true},
	}

	stats, err := newTestEngine(gw, st, 10).Push(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pushed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 2, gw.subscribeCalls)
	assert.Equal(t, 1, gw.updateCalls) // only the Exists member got an update
}
