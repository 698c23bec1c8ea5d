package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EventMessageReceived = "message.received"
	EventDeliveryStatus  = "message.finalized"
)

// ErrEmptyWebhook is returned when the webhook body carries no event.
var ErrEmptyWebhook = errors.New("messaging: empty webhook payload")

// InboundMessage is a parsed Telnyx messaging webhook.
type InboundMessage struct {
	EventID    string
	EventType  string
	MessageID  string
	From       string
	To         string
	Text       string
	Status     string
	ReceivedAt time.Time
}

// IsInboundText reports whether the event is a patient text the coordinator should see.
func (m InboundMessage) IsInboundText() bool {
	return m.EventType == EventMessageReceived && NormalizeSender(m.From) != "" && strings.TrimSpace(m.Text) != ""
}

// Sender returns the normalized sender identity.
func (m InboundMessage) Sender() string {
	return NormalizeSender(m.From)
}

type telnyxPayload struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Text      string `json:"text"`
	From      struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"from"`
	To []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	} `json:"to"`
	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`
	ReceivedAt time.Time `json:"received_at"`
}

func (p telnyxPayload) from() string {
	if v := strings.TrimSpace(p.From.PhoneNumber); v != "" {
		return v
	}
	return strings.TrimSpace(p.FromNumber)
}

func (p telnyxPayload) to() (string, string) {
	if len(p.To) > 0 && strings.TrimSpace(p.To[0].PhoneNumber) != "" {
		return strings.TrimSpace(p.To[0].PhoneNumber), p.To[0].Status
	}
	return strings.TrimSpace(p.ToNumber), ""
}

// ParseTelnyxInbound decodes either the event envelope
// ({"data":{"id","event_type","occurred_at","payload":{...}}}) or a bare
// message record ({"record_type":"message","direction":"inbound",...}).
func ParseTelnyxInbound(body []byte) (InboundMessage, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return InboundMessage{}, ErrEmptyWebhook
	}

	var envelope struct {
		Data struct {
			ID         string          `json:"id"`
			EventType  string          `json:"event_type"`
			OccurredAt time.Time       `json:"occurred_at"`
			Payload    json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return InboundMessage{}, fmt.Errorf("messaging: decode telnyx webhook: %w", err)
	}
	if envelope.Data.ID != "" {
		var payload telnyxPayload
		if len(envelope.Data.Payload) > 0 {
			if err := json.Unmarshal(envelope.Data.Payload, &payload); err != nil {
				return InboundMessage{}, fmt.Errorf("messaging: decode telnyx payload: %w", err)
			}
		}
		msg := fromPayload(payload)
		msg.EventID = envelope.Data.ID
		msg.EventType = envelope.Data.EventType
		if !envelope.Data.OccurredAt.IsZero() {
			msg.ReceivedAt = envelope.Data.OccurredAt
		}
		return msg, nil
	}

	var record struct {
		telnyxPayload
		RecordType string `json:"record_type"`
	}
	if err := json.Unmarshal(body, &record); err != nil {
		return InboundMessage{}, fmt.Errorf("messaging: decode telnyx record: %w", err)
	}
	if record.ID == "" {
		return InboundMessage{}, ErrEmptyWebhook
	}
	msg := fromPayload(record.telnyxPayload)
	msg.EventID = record.ID
	if record.RecordType == "message" {
		switch record.Direction {
		case "inbound":
			msg.EventType = EventMessageReceived
		case "outbound":
			msg.EventType = EventDeliveryStatus
		}
	}
	return msg, nil
}

func fromPayload(p telnyxPayload) InboundMessage {
	to, status := p.to()
	return InboundMessage{
		MessageID:  p.ID,
		From:       p.from(),
		To:         to,
		Text:       p.Text,
		Status:     status,
		ReceivedAt: p.ReceivedAt,
	}
}
