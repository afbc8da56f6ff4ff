package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"listsync/config"
	"listsync/models"
)

// Mailchimp speaks the Mailchimp Marketing API v3. Members are addressed by
// the MD5 hash of the lower-cased email, which is also what makes renames
// possible: a PUT on the old hash with a new email_address moves the member.
type Mailchimp struct {
	rest      restClient
	baseURL   string
	listID    string
	fromName  string
	fromEmail string
	lastErr   string
	logger    *logrus.Logger
}

// mailchimpAttrs maps the engine's internal field names to Mailchimp merge
// field tags.
var mailchimpAttrs = map[string]string{
	"first_name": "FNAME",
	"last_name":  "LNAME",
}

func NewMailchimp(cfg config.ProviderConfig, fromName, fromEmail string, timeout time.Duration, logger *logrus.Logger) *Mailchimp {
	// The datacenter is the suffix of the API key ("xxxx-us21").
	dc := "us1"
	if idx := strings.LastIndex(cfg.APIKey, "-"); idx != -1 && idx < len(cfg.APIKey)-1 {
		dc = cfg.APIKey[idx+1:]
	}

	return &Mailchimp{
		rest: newRestClient(timeout, func(r *http.Request) {
			r.SetBasicAuth("anystring", cfg.APIKey)
		}),
		baseURL:   fmt.Sprintf("https://%s.api.mailchimp.com/3.0", dc),
		listID:    cfg.ListID,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    logger,
	}
}

func (p *Mailchimp) Name() string { return NameMailchimp }

func (p *Mailchimp) memberHash(email string) string {
	sum := md5.Sum([]byte(models.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

func (p *Mailchimp) lists(listIDs []string) []string {
	if len(listIDs) == 0 {
		return []string{p.listID}
	}
	return listIDs
}

func (p *Mailchimp) fail(err error) {
	p.lastErr = err.Error()
	p.logger.WithField("provider", NameMailchimp).Warn(err)
}

type mailchimpMember struct {
	ID           string            `json:"id"`
	EmailAddress string            `json:"email_address"`
	Status       string            `json:"status"`
	MergeFields  map[string]string `json:"merge_fields,omitempty"`
}

type mailchimpMemberList struct {
	Members    []mailchimpMember `json:"members"`
	TotalItems int               `json:"total_items"`
}

// mailchimpStatus normalizes the provider status vocabulary. "cleaned"
// addresses hard-bounced and must never be re-mailed, which matches the
// blacklist semantics.
func mailchimpStatus(s string) models.SubscriberStatus {
	switch s {
	case "subscribed":
		return models.StatusActive
	case "pending":
		return models.StatusPending
	case "cleaned":
		return models.StatusBlacklist
	}
	return models.StatusUnsubscribed
}

func (p *Mailchimp) memberBody(sub *models.Subscriber) map[string]interface{} {
	merge := map[string]string{}
	for name, value := range sub.AttributeMap() {
		if tag, ok := mailchimpAttrs[name]; ok {
			merge[tag] = value
		}
	}
	body := map[string]interface{}{
		"email_address": models.NormalizeEmail(sub.Email),
		"status":        "subscribed",
	}
	if len(merge) > 0 {
		body["merge_fields"] = merge
	}
	return body
}

func (p *Mailchimp) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) SubscribeResult {
	result := SubscribeSuccess
	for _, listID := range p.lists(listIDs) {
		endpoint := fmt.Sprintf("%s/lists/%s/members", p.baseURL, listID)
		err := p.rest.do(ctx, http.MethodPost, endpoint, p.memberBody(sub), nil)
		if err == nil {
			continue
		}
		if apiErr := asAPIError(err); apiErr != nil {
			// Duplicates are success, not error.
			if strings.Contains(apiErr.Body, "Member Exists") {
				result = SubscribeExists
				continue
			}
			if strings.Contains(apiErr.Body, "Invalid Resource") || strings.Contains(apiErr.Body, "looks fake") {
				p.fail(err)
				return SubscribeInvalid
			}
		}
		p.fail(err)
		return SubscribeError
	}
	return result
}

func (p *Mailchimp) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	ok := true
	for _, listID := range p.lists(listIDs) {
		endpoint := fmt.Sprintf("%s/lists/%s/members/%s", p.baseURL, listID, p.memberHash(sub.Email))
		body := map[string]interface{}{"status": "unsubscribed"}
		if err := p.rest.do(ctx, http.MethodPatch, endpoint, body, nil); err != nil {
			if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
				continue // never subscribed here, nothing to undo
			}
			p.fail(err)
			ok = false
		}
	}
	return ok
}

func (p *Mailchimp) UpdateMember(ctx context.Context, sub *models.Subscriber) bool {
	// A rename is a PUT on the hash of the address Mailchimp still knows.
	knownEmail := sub.Email
	if sub.OldEmail != "" && models.NormalizeEmail(sub.OldEmail) != models.NormalizeEmail(sub.Email) {
		knownEmail = sub.OldEmail
	}
	endpoint := fmt.Sprintf("%s/lists/%s/members/%s", p.baseURL, p.listID, p.memberHash(knownEmail))
	body := p.memberBody(sub)
	body["status_if_new"] = "subscribed"
	if err := p.rest.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		p.fail(err)
		return false
	}
	return true
}

func (p *Mailchimp) MemberInfo(ctx context.Context, sub *models.Subscriber) (*MemberInfo, error) {
	endpoint := fmt.Sprintf("%s/lists/%s/members/%s", p.baseURL, p.listID, p.memberHash(sub.Email))
	var member mailchimpMember
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &member); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
			return nil, nil
		}
		p.fail(err)
		return nil, err
	}
	return p.normalize(member), nil
}

func (p *Mailchimp) normalize(m mailchimpMember) *MemberInfo {
	attrs := map[string]string{}
	for name, tag := range mailchimpAttrs {
		if v, ok := m.MergeFields[tag]; ok && v != "" {
			attrs[name] = v
		}
	}
	return &MemberInfo{
		ID:         m.ID,
		Email:      models.NormalizeEmail(m.EmailAddress),
		Status:     mailchimpStatus(m.Status),
		Attributes: attrs,
	}
}

func (p *Mailchimp) ListMembers(ctx context.Context, listID string, page Page) ([]MemberInfo, error) {
	if listID == "" {
		listID = p.listID
	}
	params := url.Values{}
	params.Set("count", strconv.Itoa(page.Limit))
	params.Set("offset", strconv.Itoa(page.Offset))
	if page.Since > 0 {
		params.Set("since_last_changed", time.Unix(page.Since, 0).UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/lists/%s/members?%s", p.baseURL, listID, params.Encode())

	var list mailchimpMemberList
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		p.fail(err)
		return nil, err
	}

	members := make([]MemberInfo, 0, len(list.Members))
	for _, m := range list.Members {
		members = append(members, *p.normalize(m))
	}
	return members, nil
}

func (p *Mailchimp) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	body := map[string]interface{}{
		"type": "regular",
		"recipients": map[string]interface{}{
			"list_id": p.listID,
		},
		"settings": map[string]interface{}{
			"subject_line": c.Title,
			"title":        c.Title,
			"from_name":    p.fromName,
			"reply_to":     p.fromEmail,
		},
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := p.rest.do(ctx, http.MethodPost, p.baseURL+"/campaigns", body, &created); err != nil {
		p.fail(err)
		return "", err
	}

	content := map[string]interface{}{"html": c.Content}
	endpoint := fmt.Sprintf("%s/campaigns/%s/content", p.baseURL, created.ID)
	if err := p.rest.do(ctx, http.MethodPut, endpoint, content, nil); err != nil {
		p.fail(err)
		return "", err
	}
	return created.ID, nil
}

func (p *Mailchimp) SendCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/campaigns/%s/actions/send", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Mailchimp) SendTest(ctx context.Context, providerCampaignID string, to string) error {
	endpoint := fmt.Sprintf("%s/campaigns/%s/actions/test", p.baseURL, providerCampaignID)
	body := map[string]interface{}{
		"test_emails": []string{to},
		"send_type":   "html",
	}
	if err := p.rest.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Mailchimp) DeleteCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/campaigns/%s", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Mailchimp) SupportsSync() bool { return true }

func (p *Mailchimp) Features() []Feature {
	return []Feature{FeatureCampaigns, FeatureSubscribers}
}

func (p *Mailchimp) LastError() string { return p.lastErr }
