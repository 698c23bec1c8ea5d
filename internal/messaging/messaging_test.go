package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/dental-booking-platform/internal/messaging/telnyxclient"
)

func TestNormalizeSender(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-2000":      "15550102000",
		"  5550001 ":             "5550001",
		"whatsapp:+573001234567": "573001234567",
		"":                       "",
		"abc":                    "",
	}
	for in, want := range cases {
		if got := NormalizeSender(in); got != want {
			t.Fatalf("NormalizeSender(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NormalizeE164("(555) 010-2000"); got != "+5550102000" {
		t.Fatalf("unexpected e164 %q", got)
	}
	if got := NormalizeE164("n/a"); got != "" {
		t.Fatalf("expected empty e164, got %q", got)
	}
}

func TestParseTelnyxInboundEnvelope(t *testing.T) {
	body := []byte(`{"data":{"id":"evt_1","event_type":"message.received","occurred_at":"2026-02-12T23:00:00Z",
		"payload":{"id":"msg_1","direction":"inbound","text":"Hola, quiero cita mañana",
		"from":{"phone_number":"+15550102000"},"to":[{"phone_number":"+15553334444"}]}}}`)

	msg, err := ParseTelnyxInbound(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.EventID != "evt_1" || msg.MessageID != "msg_1" || msg.To != "+15553334444" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !msg.IsInboundText() || msg.Sender() != "15550102000" {
		t.Fatalf("expected inbound text from 15550102000, got %+v", msg)
	}
	if msg.ReceivedAt.IsZero() {
		t.Fatalf("expected occurred_at to populate ReceivedAt")
	}
}

func TestParseTelnyxInboundRecord(t *testing.T) {
	body := []byte(`{"id":"msg_2","record_type":"message","direction":"inbound","text":"el lunes",
		"from_number":"+15550102000","to_number":"+15553334444","received_at":"2026-02-12T23:00:00Z"}`)

	msg, err := ParseTelnyxInbound(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.EventType != EventMessageReceived || msg.From != "+15550102000" || msg.Text != "el lunes" {
		t.Fatalf("unexpected record parse %+v", msg)
	}
}

func TestParseTelnyxInboundNonText(t *testing.T) {
	body := []byte(`{"data":{"id":"evt_3","event_type":"message.finalized",
		"payload":{"id":"msg_3","direction":"outbound","to":[{"phone_number":"+15550102000","status":"delivered"}]}}}`)
	msg, err := ParseTelnyxInbound(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.IsInboundText() {
		t.Fatalf("delivery receipts are not inbound texts")
	}
	if msg.Status != "delivered" {
		t.Fatalf("expected delivered status, got %q", msg.Status)
	}

	if _, err := ParseTelnyxInbound([]byte("  ")); !errors.Is(err, ErrEmptyWebhook) {
		t.Fatalf("expected ErrEmptyWebhook, got %v", err)
	}
	if _, err := ParseTelnyxInbound([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := ParseTelnyxInbound([]byte(`{"foo":"bar"}`)); !errors.Is(err, ErrEmptyWebhook) {
		t.Fatalf("expected ErrEmptyWebhook for unknown shape, got %v", err)
	}
}

type fakeTelnyx struct {
	req  telnyxclient.SendMessageRequest
	resp *telnyxclient.MessageResponse
	err  error
}

func (f *fakeTelnyx) SendMessage(ctx context.Context, req telnyxclient.SendMessageRequest) (*telnyxclient.MessageResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestTelnyxSender(t *testing.T) {
	api := &fakeTelnyx{resp: &telnyxclient.MessageResponse{ID: "msg_9", To: []telnyxclient.ToNumber{{Status: "queued"}}}}
	sender := NewTelnyxSender(api, "15553334444", "prof", nil, nil)

	res, err := sender.Send(context.Background(), "15550102000", "Su cita quedó agendada")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID != "msg_9" || res.Status != "queued" {
		t.Fatalf("unexpected result %+v", res)
	}
	if api.req.To != "+15550102000" || api.req.From != "+15553334444" || api.req.MessagingProfileID != "prof" {
		t.Fatalf("unexpected request %+v", api.req)
	}

	api.err = errors.New("boom")
	if _, err := sender.Send(context.Background(), "15550102000", "hola"); err == nil {
		t.Fatalf("expected send failure")
	}
	if _, err := sender.Send(context.Background(), "", "hola"); err == nil {
		t.Fatalf("expected recipient validation")
	}
	if _, err := sender.Send(context.Background(), "15550102000", " "); err == nil {
		t.Fatalf("expected body validation")
	}
}
