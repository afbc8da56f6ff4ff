package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"listsync/config"
	"listsync/models"
)

// Recipient is one personalized delivery target: the token feeds the
// per-recipient unsubscribe (and confirmation) links in the footer.
type Recipient struct {
	Email string
	Name  string
	Token string
}

// Mailer is the outbound SMTP transport used by the delivery queue. A batch
// shares one dialed connection, but every recipient gets an individually
// rendered message so the unsubscribe footer stays personal.
type Mailer struct {
	dialer    *gomail.Dialer
	baseURL   string
	fromEmail string
	fromName  string
	logger    *logrus.Logger
}

// Embedded internal template wrapping campaign content
const internalTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
</head>
<body>
    {{.Body}}
    <div style="margin-top: 30px; font-size: 12px; color: #7f8c8d;">
        <p><a href="{{.UnsubscribeURL}}">Unsubscribe</a> from this mailing list.</p>
    </div>
</body>
</html>`

func NewMailer(cfg *config.Config, logger *logrus.Logger) *Mailer {
	return &Mailer{
		dialer:    gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		baseURL:   cfg.BaseURL,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// UnsubscribeURL builds the tokenized unsubscribe link for one recipient.
func (m *Mailer) UnsubscribeURL(email, token string) string {
	return fmt.Sprintf("%s/unsubscribe?email=%s&token=%s",
		m.baseURL, url.QueryEscape(email), url.QueryEscape(token))
}

// ConfirmURL builds the tokenized double-opt-in confirmation link.
func (m *Mailer) ConfirmURL(email, token string) string {
	return fmt.Sprintf("%s/confirm?email=%s&token=%s",
		m.baseURL, url.QueryEscape(email), url.QueryEscape(token))
}

// render expands the campaign content (itself a template: {{.Name}},
// {{.ConfirmURL}}, {{.UnsubscribeURL}}) and optionally wraps it in the
// internal layout.
func (m *Mailer) render(campaign *models.Campaign, r Recipient) (string, error) {
	contentTmpl, err := template.New("content").Parse(campaign.Content)
	if err != nil {
		return "", fmt.Errorf("error parsing campaign content: %v", err)
	}

	data := map[string]string{
		"Name":           r.Name,
		"Email":          r.Email,
		"Title":          campaign.Title,
		"ConfirmURL":     m.ConfirmURL(r.Email, r.Token),
		"UnsubscribeURL": m.UnsubscribeURL(r.Email, r.Token),
	}

	var body bytes.Buffer
	if err := contentTmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("error executing campaign content: %v", err)
	}
	if !campaign.UseTemplate {
		return body.String(), nil
	}

	layout := template.Must(template.New("layout").Parse(internalTemplate))
	var out bytes.Buffer
	err = layout.Execute(&out, map[string]interface{}{
		"Title":          campaign.Title,
		"Body":           template.HTML(body.String()),
		"UnsubscribeURL": data["UnsubscribeURL"],
	})
	if err != nil {
		return "", fmt.Errorf("error executing layout: %v", err)
	}
	return out.String(), nil
}

// SendCampaign delivers one campaign batch over a single SMTP connection.
// It returns the recipients that were actually handed to the transport; a
// per-recipient failure is logged and skipped so it cannot block the rest of
// the batch. The returned error is batch-level (dial failure) only.
func (m *Mailer) SendCampaign(campaign *models.Campaign, recipients []Recipient) ([]Recipient, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	sender, err := m.dialer.Dial()
	if err != nil {
		return nil, fmt.Errorf("error connecting to SMTP server: %v", err)
	}
	defer sender.Close()

	var sent []Recipient
	msg := gomail.NewMessage()
	for _, r := range recipients {
		body, err := m.render(campaign, r)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"email":       r.Email,
			}).Warnf("skipping recipient: %v", err)
			continue
		}

		msg.Reset()
		msg.SetHeader("From", msg.FormatAddress(m.fromEmail, m.fromName))
		if r.Name != "" {
			msg.SetHeader("To", msg.FormatAddress(r.Email, r.Name))
		} else {
			msg.SetHeader("To", r.Email)
		}
		msg.SetHeader("Subject", campaign.Title)
		msg.SetHeader("List-Unsubscribe", "<"+m.UnsubscribeURL(r.Email, r.Token)+">")
		msg.SetBody("text/html", body)

		if err := gomail.Send(sender, msg); err != nil {
			m.logger.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"email":       r.Email,
			}).Warnf("error sending email: %v", err)
			continue
		}
		sent = append(sent, r)
	}
	return sent, nil
}
