package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"listsync/config"
	"listsync/models"
)

// MailerLite speaks the MailerLite classic API (v2). Subscribers are
// addressed by email directly; there is no rename endpoint, so an address
// change is an unsubscribe of the old address plus a subscribe of the new.
type MailerLite struct {
	rest    restClient
	baseURL string
	groupID string
	lastErr string
	logger  *logrus.Logger
}

var mailerliteAttrs = map[string]string{
	"first_name": "name",
	"last_name":  "last_name",
}

func NewMailerLite(cfg config.ProviderConfig, timeout time.Duration, logger *logrus.Logger) *MailerLite {
	return &MailerLite{
		rest: newRestClient(timeout, func(r *http.Request) {
			r.Header.Set("X-MailerLite-ApiKey", cfg.APIKey)
		}),
		baseURL: "https://api.mailerlite.com/api/v2",
		groupID: cfg.ListID,
		logger:  logger,
	}
}

func (p *MailerLite) Name() string { return NameMailerLite }

func (p *MailerLite) fail(err error) {
	p.lastErr = err.Error()
	p.logger.WithField("provider", NameMailerLite).Warn(err)
}

func (p *MailerLite) groups(listIDs []string) []string {
	if len(listIDs) == 0 {
		return []string{p.groupID}
	}
	return listIDs
}

type mailerliteSubscriber struct {
	ID     int64             `json:"id"`
	Email  string            `json:"email"`
	Type   string            `json:"type"` // active, unsubscribed, unconfirmed, bounced, junk
	Fields map[string]string `json:"-"`

	RawFields []struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	} `json:"fields"`
}

func mailerliteStatus(t string) models.SubscriberStatus {
	switch t {
	case "active":
		return models.StatusActive
	case "unconfirmed":
		return models.StatusPending
	case "bounced", "junk":
		return models.StatusBlacklist
	}
	return models.StatusUnsubscribed
}

func (p *MailerLite) normalize(s mailerliteSubscriber) *MemberInfo {
	fields := map[string]string{}
	for _, f := range s.RawFields {
		if v, ok := f.Value.(string); ok {
			fields[f.Key] = v
		}
	}
	attrs := map[string]string{}
	for name, key := range mailerliteAttrs {
		if v, ok := fields[key]; ok && v != "" {
			attrs[name] = v
		}
	}
	return &MemberInfo{
		ID:         strconv.FormatInt(s.ID, 10),
		Email:      models.NormalizeEmail(s.Email),
		Status:     mailerliteStatus(s.Type),
		Attributes: attrs,
	}
}

func (p *MailerLite) subscribeBody(sub *models.Subscriber) map[string]interface{} {
	fields := map[string]string{}
	for name, value := range sub.AttributeMap() {
		if key, ok := mailerliteAttrs[name]; ok {
			fields[key] = value
		}
	}
	body := map[string]interface{}{
		"email":       models.NormalizeEmail(sub.Email),
		"resubscribe": false,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return body
}

func (p *MailerLite) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) SubscribeResult {
	// The group endpoint upserts silently, so an existing active member has
	// to be recognized up front to report Exists instead of Success.
	if info, err := p.MemberInfo(ctx, sub); err == nil && info != nil && info.Status == models.StatusActive {
		return SubscribeExists
	}

	for _, groupID := range p.groups(listIDs) {
		endpoint := fmt.Sprintf("%s/groups/%s/subscribers", p.baseURL, groupID)
		if err := p.rest.do(ctx, http.MethodPost, endpoint, p.subscribeBody(sub), nil); err != nil {
			if apiErr := asAPIError(err); apiErr != nil && apiErr.Status == http.StatusUnprocessableEntity {
				p.fail(err)
				return SubscribeInvalid
			}
			p.fail(err)
			return SubscribeError
		}
	}
	return SubscribeSuccess
}

func (p *MailerLite) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	endpoint := fmt.Sprintf("%s/subscribers/%s", p.baseURL, url.PathEscape(models.NormalizeEmail(sub.Email)))
	body := map[string]interface{}{"type": "unsubscribed"}
	if err := p.rest.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
			return true
		}
		p.fail(err)
		return false
	}
	return true
}

func (p *MailerLite) UpdateMember(ctx context.Context, sub *models.Subscriber) bool {
	if sub.OldEmail != "" && models.NormalizeEmail(sub.OldEmail) != models.NormalizeEmail(sub.Email) {
		old := &models.Subscriber{Email: sub.OldEmail}
		if !p.Unsubscribe(ctx, old, nil) {
			return false
		}
		result := p.Subscribe(ctx, sub, nil)
		return result == SubscribeSuccess || result == SubscribeExists
	}

	endpoint := fmt.Sprintf("%s/subscribers/%s", p.baseURL, url.PathEscape(models.NormalizeEmail(sub.Email)))
	fields := map[string]string{}
	for name, value := range sub.AttributeMap() {
		if key, ok := mailerliteAttrs[name]; ok {
			fields[key] = value
		}
	}
	body := map[string]interface{}{"fields": fields}
	if err := p.rest.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		p.fail(err)
		return false
	}
	return true
}

func (p *MailerLite) MemberInfo(ctx context.Context, sub *models.Subscriber) (*MemberInfo, error) {
	endpoint := fmt.Sprintf("%s/subscribers/%s", p.baseURL, url.PathEscape(models.NormalizeEmail(sub.Email)))
	var s mailerliteSubscriber
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &s); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
			return nil, nil
		}
		p.fail(err)
		return nil, err
	}
	return p.normalize(s), nil
}

func (p *MailerLite) ListMembers(ctx context.Context, listID string, page Page) ([]MemberInfo, error) {
	if listID == "" {
		listID = p.groupID
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(page.Limit))
	params.Set("offset", strconv.Itoa(page.Offset))
	endpoint := fmt.Sprintf("%s/groups/%s/subscribers?%s", p.baseURL, listID, params.Encode())

	var subs []mailerliteSubscriber
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &subs); err != nil {
		p.fail(err)
		return nil, err
	}

	members := make([]MemberInfo, 0, len(subs))
	for _, s := range subs {
		members = append(members, *p.normalize(s))
	}
	return members, nil
}

func (p *MailerLite) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	groupID, _ := strconv.ParseInt(p.groupID, 10, 64)
	body := map[string]interface{}{
		"type":    "regular",
		"subject": c.Title,
		"groups":  []int64{groupID},
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := p.rest.do(ctx, http.MethodPost, p.baseURL+"/campaigns", body, &created); err != nil {
		p.fail(err)
		return "", err
	}

	id := strconv.FormatInt(created.ID, 10)
	content := map[string]interface{}{
		"html":  c.Content,
		"plain": c.Title + " {$unsubscribe}",
	}
	endpoint := fmt.Sprintf("%s/campaigns/%s/content", p.baseURL, id)
	if err := p.rest.do(ctx, http.MethodPut, endpoint, content, nil); err != nil {
		p.fail(err)
		return "", err
	}
	return id, nil
}

func (p *MailerLite) SendCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/campaigns/%s/actions/send", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

// SendTest is not exposed by the classic API; campaigns are verified through
// the MailerLite dashboard instead.
func (p *MailerLite) SendTest(ctx context.Context, providerCampaignID string, to string) error {
	return fmt.Errorf("mailerlite: test sends are not supported by the API")
}

func (p *MailerLite) DeleteCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/campaigns/%s", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *MailerLite) SupportsSync() bool { return true }

func (p *MailerLite) Features() []Feature {
	return []Feature{FeatureCampaigns, FeatureSubscribers}
}

func (p *MailerLite) LastError() string { return p.lastErr }
