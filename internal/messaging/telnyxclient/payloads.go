package telnyxclient

import (
	"errors"
	"strings"
	"time"
)

// SendMessageRequest is an outbound SMS.
type SendMessageRequest struct {
	From               string
	To                 string
	Body               string
	MessagingProfileID string
	WebhookURL         string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("telnyxclient: to number required")
	}
	if strings.TrimSpace(r.From) == "" && strings.TrimSpace(r.MessagingProfileID) == "" {
		return errors.New("telnyxclient: from number or messaging profile required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("telnyxclient: body required")
	}
	return nil
}

type sendBody struct {
	From               string `json:"from,omitempty"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
	WebhookURL         string `json:"webhook_url,omitempty"`
}

// MessageResponse is the subset of the Telnyx message resource we read.
type MessageResponse struct {
	ID        string      `json:"id"`
	Direction string      `json:"direction"`
	Text      string      `json:"text"`
	Parts     int         `json:"parts"`
	From      PhoneNumber `json:"from"`
	To        []ToNumber  `json:"to"`
	CreatedAt time.Time   `json:"created_at"`
	Errors    []APIError  `json:"errors,omitempty"`
}

// Status returns the delivery status of the first recipient.
func (m *MessageResponse) Status() string {
	if m == nil || len(m.To) == 0 {
		return ""
	}
	return m.To[0].Status
}

type PhoneNumber struct {
	PhoneNumber string `json:"phone_number"`
	Carrier     string `json:"carrier,omitempty"`
}

type ToNumber struct {
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}
