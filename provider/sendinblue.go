package provider

import (
	"context"
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

// Sendinblue speaks the Sendinblue (Brevo) v3 API. It is the one provider
// with a real rename endpoint: updating the EMAIL attribute moves the
// contact without losing its history.
type Sendinblue struct {
	rest      restClient
	baseURL   string
	listID    string
	fromName  string
	fromEmail string
	lastErr   string
	logger    *logrus.Logger
}

var sendinblueAttrs = map[string]string{
	"first_name": "FIRSTNAME",
	"last_name":  "LASTNAME",
}

func NewSendinblue(cfg config.ProviderConfig, fromName, fromEmail string, timeout time.Duration, logger *logrus.Logger) *Sendinblue {
	return &Sendinblue{
		rest: newRestClient(timeout, func(r *http.Request) {
			r.Header.Set("api-key", cfg.APIKey)
		}),
		baseURL:   "https://api.sendinblue.com/v3",
		listID:    cfg.ListID,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    logger,
	}
}

func (p *Sendinblue) Name() string { return NameSendinblue }

func (p *Sendinblue) fail(err error) {
	p.lastErr = err.Error()
	p.logger.WithField("provider", NameSendinblue).Warn(err)
}

func (p *Sendinblue) listIDsAsInts(listIDs []string) []int64 {
	if len(listIDs) == 0 {
		listIDs = []string{p.listID}
	}
	ids := make([]int64, 0, len(listIDs))
	for _, s := range listIDs {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Sendinblue) attributes(sub *models.Subscriber) map[string]string {
	attrs := map[string]string{}
	for name, value := range sub.AttributeMap() {
		if key, ok := sendinblueAttrs[name]; ok {
			attrs[key] = value
		}
	}
	return attrs
}

type sendinblueContact struct {
	ID               int64             `json:"id"`
	Email            string            `json:"email"`
	EmailBlacklisted bool              `json:"emailBlacklisted"`
	ListIDs          []int64           `json:"listIds"`
	Attributes       map[string]string `json:"attributes"`
}

func (p *Sendinblue) normalize(c sendinblueContact) *MemberInfo {
	status := models.StatusUnsubscribed
	if c.EmailBlacklisted {
		status = models.StatusBlacklist
	} else if len(c.ListIDs) > 0 {
		status = models.StatusActive
	}
	attrs := map[string]string{}
	for name, key := range sendinblueAttrs {
		if v, ok := c.Attributes[key]; ok && v != "" {
			attrs[name] = v
		}
	}
	return &MemberInfo{
		ID:         strconv.FormatInt(c.ID, 10),
		Email:      models.NormalizeEmail(c.Email),
		Status:     status,
		Attributes: attrs,
	}
}

func (p *Sendinblue) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) SubscribeResult {
	body := map[string]interface{}{
		"email":   models.NormalizeEmail(sub.Email),
		"listIds": p.listIDsAsInts(listIDs),
	}
	if attrs := p.attributes(sub); len(attrs) > 0 {
		body["attributes"] = attrs
	}
	if err := p.rest.do(ctx, http.MethodPost, p.baseURL+"/contacts", body, nil); err != nil {
		if apiErr := asAPIError(err); apiErr != nil {
			if strings.Contains(apiErr.Body, "duplicate_parameter") {
				// Already a contact; make sure it is linked to the lists.
				if p.UpdateMember(ctx, sub) {
					return SubscribeExists
				}
				return SubscribeError
			}
			if strings.Contains(apiErr.Body, "invalid_parameter") {
				p.fail(err)
				return SubscribeInvalid
			}
		}
		p.fail(err)
		return SubscribeError
	}
	return SubscribeSuccess
}

func (p *Sendinblue) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	endpoint := fmt.Sprintf("%s/contacts/%s", p.baseURL, url.PathEscape(models.NormalizeEmail(sub.Email)))
	body := map[string]interface{}{
		"unlinkListIds": p.listIDsAsInts(listIDs),
	}
	if err := p.rest.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
			return true
		}
		p.fail(err)
		return false
	}
	return true
}

func (p *Sendinblue) UpdateMember(ctx context.Context, sub *models.Subscriber) bool {
	// Address the contact by the email the provider still knows; the EMAIL
	// attribute performs the rename.
	knownEmail := sub.Email
	attrs := p.attributes(sub)
	if sub.OldEmail != "" && models.NormalizeEmail(sub.OldEmail) != models.NormalizeEmail(sub.Email) {
		knownEmail = sub.OldEmail
		attrs["EMAIL"] = models.NormalizeEmail(sub.Email)
	}

	endpoint := fmt.Sprintf("%s/contacts/%s", p.baseURL, url.PathEscape(models.NormalizeEmail(knownEmail)))
	body := map[string]interface{}{
		"listIds": p.listIDsAsInts(nil),
	}
	if len(attrs) > 0 {
		body["attributes"] = attrs
	}
	if err := p.rest.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		p.fail(err)
		return false
	}
	return true
}

func (p *Sendinblue) MemberInfo(ctx context.Context, sub *models.Subscriber) (*MemberInfo, error) {
	endpoint := fmt.Sprintf("%s/contacts/%s", p.baseURL, url.PathEscape(models.NormalizeEmail(sub.Email)))
	var contact sendinblueContact
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &contact); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
			return nil, nil
		}
		p.fail(err)
		return nil, err
	}
	return p.normalize(contact), nil
}

func (p *Sendinblue) ListMembers(ctx context.Context, listID string, page Page) ([]MemberInfo, error) {
	if listID == "" {
		listID = p.listID
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(page.Limit))
	params.Set("offset", strconv.Itoa(page.Offset))
	if page.Since > 0 {
		params.Set("modifiedSince", time.Unix(page.Since, 0).UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/contacts/lists/%s/contacts?%s", p.baseURL, listID, params.Encode())

	var resp struct {
		Contacts []sendinblueContact `json:"contacts"`
		Count    int                 `json:"count"`
	}
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		p.fail(err)
		return nil, err
	}

	members := make([]MemberInfo, 0, len(resp.Contacts))
	for _, c := range resp.Contacts {
		info := p.normalize(c)
		// A contact returned from the list endpoint is on the list even if
		// the listIds field is omitted from the short form.
		if info.Status == models.StatusUnsubscribed && !c.EmailBlacklisted {
			info.Status = models.StatusActive
		}
		members = append(members, *info)
	}
	return members, nil
}

func (p *Sendinblue) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	listID, _ := strconv.ParseInt(p.listID, 10, 64)
	body := map[string]interface{}{
		"name":        c.Title,
		"subject":     c.Title,
		"htmlContent": c.Content,
		"sender": map[string]string{
			"name":  p.fromName,
			"email": p.fromEmail,
		},
		"recipients": map[string]interface{}{
			"listIds": []int64{listID},
		},
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := p.rest.do(ctx, http.MethodPost, p.baseURL+"/emailCampaigns", body, &created); err != nil {
		p.fail(err)
		return "", err
	}
	return strconv.FormatInt(created.ID, 10), nil
}

func (p *Sendinblue) SendCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/emailCampaigns/%s/sendNow", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Sendinblue) SendTest(ctx context.Context, providerCampaignID string, to string) error {
	endpoint := fmt.Sprintf("%s/emailCampaigns/%s/sendTest", p.baseURL, providerCampaignID)
	body := map[string]interface{}{"emailTo": []string{to}}
	if err := p.rest.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Sendinblue) DeleteCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/emailCampaigns/%s", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Sendinblue) SupportsSync() bool { return true }

func (p *Sendinblue) Features() []Feature {
	return []Feature{FeatureCampaigns, FeatureSubscribers}
}

func (p *Sendinblue) LastError() string { return p.lastErr }
