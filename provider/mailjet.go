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

// Mailjet speaks the Mailjet v3 REST API. Contact membership is managed
// through the per-list managecontact action, which upserts; a contact's
// email is immutable, so renames fall back to unsubscribe-old/subscribe-new.
type Mailjet struct {
	rest      restClient
	baseURL   string
	listID    string
	fromName  string
	fromEmail string
	lastErr   string
	logger    *logrus.Logger
}

var mailjetAttrs = map[string]string{
	"first_name": "firstname",
	"last_name":  "lastname",
}

func NewMailjet(cfg config.ProviderConfig, fromName, fromEmail string, timeout time.Duration, logger *logrus.Logger) *Mailjet {
	return &Mailjet{
		rest: newRestClient(timeout, func(r *http.Request) {
			r.SetBasicAuth(cfg.APIKey, cfg.SecretKey)
		}),
		baseURL:   "https://api.mailjet.com/v3/REST",
		listID:    cfg.ListID,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    logger,
	}
}

func (p *Mailjet) Name() string { return NameMailjet }

func (p *Mailjet) fail(err error) {
	p.lastErr = err.Error()
	p.logger.WithField("provider", NameMailjet).Warn(err)
}

func (p *Mailjet) lists(listIDs []string) []string {
	if len(listIDs) == 0 {
		return []string{p.listID}
	}
	return listIDs
}

type mailjetContact struct {
	ID    int64  `json:"ID"`
	Email string `json:"Email"`
	Name  string `json:"Name"`
}

type mailjetContactList struct {
	Count int              `json:"Count"`
	Data  []mailjetContact `json:"Data"`
}

type mailjetListRecipient struct {
	IsUnsubscribed bool  `json:"IsUnsubscribed"`
	ContactID      int64 `json:"ContactID"`
}

func (p *Mailjet) manageContact(ctx context.Context, listID, action string, sub *models.Subscriber) error {
	props := map[string]string{}
	for name, value := range sub.AttributeMap() {
		if key, ok := mailjetAttrs[name]; ok {
			props[key] = value
		}
	}
	body := map[string]interface{}{
		"Email":  models.NormalizeEmail(sub.Email),
		"Action": action,
	}
	if name, ok := sub.AttributeMap()["first_name"]; ok {
		body["Name"] = name
	}
	if len(props) > 0 {
		body["Properties"] = props
	}
	endpoint := fmt.Sprintf("%s/contactslist/%s/managecontact", p.baseURL, listID)
	return p.rest.do(ctx, http.MethodPost, endpoint, body, nil)
}

func (p *Mailjet) Subscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) SubscribeResult {
	// managecontact upserts, so an already-active recipient has to be
	// detected up front to report Exists.
	if info, err := p.MemberInfo(ctx, sub); err == nil && info != nil && info.Status == models.StatusActive {
		return SubscribeExists
	}

	for _, listID := range p.lists(listIDs) {
		if err := p.manageContact(ctx, listID, "addnoforce", sub); err != nil {
			if apiErr := asAPIError(err); apiErr != nil {
				if strings.Contains(apiErr.Body, "already exists") || strings.Contains(apiErr.Body, "MJ18") {
					continue
				}
				if apiErr.Status == http.StatusBadRequest && strings.Contains(apiErr.Body, "Email") {
					p.fail(err)
					return SubscribeInvalid
				}
			}
			p.fail(err)
			return SubscribeError
		}
	}
	return SubscribeSuccess
}

func (p *Mailjet) Unsubscribe(ctx context.Context, sub *models.Subscriber, listIDs []string) bool {
	ok := true
	for _, listID := range p.lists(listIDs) {
		if err := p.manageContact(ctx, listID, "unsub", sub); err != nil {
			if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
				continue
			}
			p.fail(err)
			ok = false
		}
	}
	return ok
}

func (p *Mailjet) UpdateMember(ctx context.Context, sub *models.Subscriber) bool {
	if sub.OldEmail != "" && models.NormalizeEmail(sub.OldEmail) != models.NormalizeEmail(sub.Email) {
		old := &models.Subscriber{Email: sub.OldEmail}
		if !p.Unsubscribe(ctx, old, nil) {
			return false
		}
		result := p.Subscribe(ctx, sub, nil)
		return result == SubscribeSuccess || result == SubscribeExists
	}
	if err := p.manageContact(ctx, p.listID, "addnoforce", sub); err != nil {
		p.fail(err)
		return false
	}
	return true
}

func (p *Mailjet) MemberInfo(ctx context.Context, sub *models.Subscriber) (*MemberInfo, error) {
	email := models.NormalizeEmail(sub.Email)
	endpoint := fmt.Sprintf("%s/contact/%s", p.baseURL, url.PathEscape(email))
	var contacts mailjetContactList
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &contacts); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.NotFound() {
			return nil, nil
		}
		p.fail(err)
		return nil, err
	}
	if contacts.Count == 0 || len(contacts.Data) == 0 {
		return nil, nil
	}
	contact := contacts.Data[0]

	// Subscription state lives on the list recipient, not the contact.
	status := models.StatusUnsubscribed
	params := url.Values{}
	params.Set("ContactEmail", email)
	params.Set("ContactsList", p.listID)
	var recipients struct {
		Count int                    `json:"Count"`
		Data  []mailjetListRecipient `json:"Data"`
	}
	endpoint = fmt.Sprintf("%s/listrecipient?%s", p.baseURL, params.Encode())
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &recipients); err == nil &&
		recipients.Count > 0 && !recipients.Data[0].IsUnsubscribed {
		status = models.StatusActive
	}

	attrs := map[string]string{}
	if contact.Name != "" {
		attrs["first_name"] = contact.Name
	}
	return &MemberInfo{
		ID:         strconv.FormatInt(contact.ID, 10),
		Email:      models.NormalizeEmail(contact.Email),
		Status:     status,
		Attributes: attrs,
	}, nil
}

func (p *Mailjet) ListMembers(ctx context.Context, listID string, page Page) ([]MemberInfo, error) {
	if listID == "" {
		listID = p.listID
	}
	params := url.Values{}
	params.Set("ContactsList", listID)
	params.Set("Limit", strconv.Itoa(page.Limit))
	params.Set("Offset", strconv.Itoa(page.Offset))
	endpoint := fmt.Sprintf("%s/contact?%s", p.baseURL, params.Encode())

	var contacts mailjetContactList
	if err := p.rest.do(ctx, http.MethodGet, endpoint, nil, &contacts); err != nil {
		p.fail(err)
		return nil, err
	}

	members := make([]MemberInfo, 0, len(contacts.Data))
	for _, c := range contacts.Data {
		attrs := map[string]string{}
		if c.Name != "" {
			attrs["first_name"] = c.Name
		}
		members = append(members, MemberInfo{
			ID:         strconv.FormatInt(c.ID, 10),
			Email:      models.NormalizeEmail(c.Email),
			Status:     models.StatusActive, // the list endpoint only returns current members
			Attributes: attrs,
		})
	}
	return members, nil
}

func (p *Mailjet) CreateCampaign(ctx context.Context, c *models.Campaign) (string, error) {
	listID, _ := strconv.ParseInt(p.listID, 10, 64)
	body := map[string]interface{}{
		"Locale":         "en_US",
		"Sender":         p.fromName,
		"SenderEmail":    p.fromEmail,
		"Subject":        c.Title,
		"ContactsListID": listID,
		"Title":          c.Title,
	}
	var created struct {
		Data []struct {
			ID int64 `json:"ID"`
		} `json:"Data"`
	}
	if err := p.rest.do(ctx, http.MethodPost, p.baseURL+"/campaigndraft", body, &created); err != nil {
		p.fail(err)
		return "", err
	}
	if len(created.Data) == 0 {
		err := fmt.Errorf("mailjet: campaigndraft response carried no draft")
		p.fail(err)
		return "", err
	}

	id := strconv.FormatInt(created.Data[0].ID, 10)
	content := map[string]interface{}{
		"Html-part": c.Content,
		"Text-part": c.Title,
	}
	endpoint := fmt.Sprintf("%s/campaigndraft/%s/detailcontent", p.baseURL, id)
	if err := p.rest.do(ctx, http.MethodPost, endpoint, content, nil); err != nil {
		p.fail(err)
		return "", err
	}
	return id, nil
}

func (p *Mailjet) SendCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/campaigndraft/%s/send", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Mailjet) SendTest(ctx context.Context, providerCampaignID string, to string) error {
	endpoint := fmt.Sprintf("%s/campaigndraft/%s/test", p.baseURL, providerCampaignID)
	body := map[string]interface{}{
		"Recipients": []map[string]string{{"Email": to}},
	}
	if err := p.rest.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Mailjet) DeleteCampaign(ctx context.Context, providerCampaignID string) error {
	endpoint := fmt.Sprintf("%s/campaigndraft/%s", p.baseURL, providerCampaignID)
	if err := p.rest.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		p.fail(err)
		return err
	}
	return nil
}

func (p *Mailjet) SupportsSync() bool { return true }

func (p *Mailjet) Features() []Feature {
	return []Feature{FeatureCampaigns, FeatureSubscribers}
}

func (p *Mailjet) LastError() string { return p.lastErr }
