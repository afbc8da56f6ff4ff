package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"listsync/models"
	"listsync/provider"
)

// Parse normalizes one raw webhook body into events. Unknown event types
// are passed through with their provider-native type string so the ledger
// still records them; the dispatcher ignores their effect.
func Parse(providerName string, body []byte) ([]Event, error) {
	switch providerName {
	case provider.NameMailchimp:
		return parseMailchimp(body)
	case provider.NameMailerLite:
		return parseMailerLite(body)
	case provider.NameMailjet:
		return parseMailjet(body)
	case provider.NameSendinblue:
		return parseSendinblue(body)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
}

type mailchimpPayload struct {
	Type    string `json:"type"`
	FiredAt string `json:"fired_at"`
	Data    struct {
		ID       string            `json:"id"`
		Email    string            `json:"email"`
		NewEmail string            `json:"new_email"`
		OldEmail string            `json:"old_email"`
		Reason   string            `json:"reason"`
		Merges   map[string]string `json:"merges"`
	} `json:"data"`
}

// Mailchimp delivers one event per request; the member id plus fired_at
// make a stable dedup key.
func parseMailchimp(body []byte) ([]Event, error) {
	var p mailchimpPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed mailchimp payload: %w", err)
	}

	event := Event{
		TxnID:      p.Data.ID,
		TxnDate:    p.FiredAt,
		Email:      models.NormalizeEmail(p.Data.Email),
		Attributes: mailchimpMerges(p.Data.Merges),
		Raw:        string(body),
	}
	if event.TxnID == "" {
		event.TxnID = uuid.NewString()
	}

	switch p.Type {
	case "subscribe":
		event.Type = EventSubscribe
	case "unsubscribe":
		if p.Data.Reason == "abuse" {
			event.Type = EventSpam
		} else {
			event.Type = EventUnsubscribe
		}
	case "profile":
		event.Type = EventProfile
	case "upemail":
		event.Type = EventEmailChanged
		event.Email = models.NormalizeEmail(p.Data.OldEmail)
		event.NewEmail = models.NormalizeEmail(p.Data.NewEmail)
	case "cleaned":
		event.Type = EventBounce
	default:
		event.Type = p.Type
	}
	return []Event{event}, nil
}

type mailerlitePayload struct {
	Events []struct {
		Type string `json:"type"`
		Data struct {
			Subscriber struct {
				Email  string            `json:"email"`
				Fields map[string]string `json:"fields"`
			} `json:"subscriber"`
		} `json:"data"`
	} `json:"events"`
}

// MailerLite batches events and carries no per-event id, so each event gets
// a synthesized id. Replays of the same batch therefore dedup per delivery,
// not per logical event.
func parseMailerLite(body []byte) ([]Event, error) {
	var p mailerlitePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed mailerlite payload: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	events := make([]Event, 0, len(p.Events))
	for _, e := range p.Events {
		event := Event{
			TxnID:      uuid.NewString(),
			TxnDate:    now,
			Email:      models.NormalizeEmail(e.Data.Subscriber.Email),
			Attributes: mailerliteFields(e.Data.Subscriber.Fields),
			Raw:        string(body),
		}
		switch e.Type {
		case "subscriber.create", "subscriber.added_through_webform":
			event.Type = EventSubscribe
		case "subscriber.unsubscribe":
			event.Type = EventUnsubscribe
		case "subscriber.update":
			event.Type = EventProfile
		case "subscriber.bounced":
			event.Type = EventBounce
		case "subscriber.complaint":
			event.Type = EventSpam
		default:
			event.Type = e.Type
		}
		events = append(events, event)
	}
	return events, nil
}

type mailjetEvent struct {
	Event      string `json:"event"`
	Time       int64  `json:"time"`
	Email      string `json:"email"`
	MessageID  int64  `json:"MessageID"`
	HardBounce bool   `json:"hard_bounce"`
}

// Mailjet posts an array of events; MessageID plus timestamp is the dedup
// key. Soft bounces are transient and carry no state change.
func parseMailjet(body []byte) ([]Event, error) {
	var raw []mailjetEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed mailjet payload: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, e := range raw {
		event := Event{
			TxnID:   strconv.FormatInt(e.MessageID, 10),
			TxnDate: time.Unix(e.Time, 0).UTC().Format(time.RFC3339),
			Email:   models.NormalizeEmail(e.Email),
			Raw:     string(body),
		}
		if e.MessageID == 0 {
			event.TxnID = uuid.NewString()
		}
		switch e.Event {
		case "unsub":
			event.Type = EventUnsubscribe
		case "spam":
			event.Type = EventSpam
		case "bounce", "blocked":
			if !e.HardBounce && e.Event == "bounce" {
				continue
			}
			event.Type = EventBounce
		default:
			event.Type = e.Event
		}
		events = append(events, event)
	}
	return events, nil
}

type sendinbluePayload struct {
	Event string `json:"event"`
	Email string `json:"email"`
	ID    int64  `json:"id"`
	Date  string `json:"date"`
}

func parseSendinblue(body []byte) ([]Event, error) {
	var p sendinbluePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed sendinblue payload: %w", err)
	}

	event := Event{
		TxnID:   strconv.FormatInt(p.ID, 10),
		TxnDate: p.Date,
		Email:   models.NormalizeEmail(p.Email),
		Raw:     string(body),
	}
	if p.ID == 0 {
		event.TxnID = uuid.NewString()
	}
	switch p.Event {
	case "unsubscribed":
		event.Type = EventUnsubscribe
	case "hard_bounce":
		event.Type = EventBounce
	case "spam", "complaint":
		event.Type = EventSpam
	case "contact_updated":
		event.Type = EventProfile
	default:
		event.Type = p.Event
	}
	return []Event{event}, nil
}

func mailchimpMerges(merges map[string]string) map[string]string {
	if len(merges) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(merges))
	for k, v := range merges {
		switch k {
		case "FNAME":
			attrs["first_name"] = v
		case "LNAME":
			attrs["last_name"] = v
		default:
			attrs[k] = v
		}
	}
	return attrs
}

func mailerliteFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(fields))
	for k, v := range fields {
		switch k {
		case "name":
			attrs["first_name"] = v
		case "last_name":
			attrs["last_name"] = v
		default:
			attrs[k] = v
		}
	}
	return attrs
}
