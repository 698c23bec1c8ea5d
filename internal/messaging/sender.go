package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-platform/internal/messaging/telnyxclient"
	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

var messagingTracer = otel.Tracer("dental.internal.messaging")

// DeliveryResult describes an accepted outbound message.
type DeliveryResult struct {
	MessageID string
	Status    string
}

// Sender delivers an SMS to a recipient.
type Sender interface {
	Send(ctx context.Context, to, body string) (DeliveryResult, error)
}

type telnyxAPI interface {
	SendMessage(ctx context.Context, req telnyxclient.SendMessageRequest) (*telnyxclient.MessageResponse, error)
}

// TelnyxSender sends replies through the Telnyx messaging API.
type TelnyxSender struct {
	client    telnyxAPI
	from      string
	profileID string
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger
}

func NewTelnyxSender(client telnyxAPI, from, profileID string, m *metrics.MessagingMetrics, logger *logging.Logger) *TelnyxSender {
	if client == nil {
		panic("messaging: telnyx client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		client:    client,
		from:      NormalizeE164(from),
		profileID: strings.TrimSpace(profileID),
		metrics:   m,
		logger:    logger,
	}
}

func (s *TelnyxSender) Send(ctx context.Context, to, body string) (DeliveryResult, error) {
	recipient := NormalizeE164(to)
	if recipient == "" {
		return DeliveryResult{}, errors.New("messaging: recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return DeliveryResult{}, errors.New("messaging: body required")
	}

	ctx, span := messagingTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(attribute.String("dental.to", recipient))

	resp, err := s.client.SendMessage(ctx, telnyxclient.SendMessageRequest{
		From:               s.from,
		To:                 recipient,
		Body:               body,
		MessagingProfileID: s.profileID,
	})
	if err != nil {
		s.metrics.ObserveOutbound("failed")
		span.RecordError(err)
		s.logger.Error("telnyx sms failed", "to", recipient, "error", err)
		return DeliveryResult{}, fmt.Errorf("messaging: send sms: %w", err)
	}
	s.metrics.ObserveOutbound("sent")
	s.logger.Info("telnyx sms sent", "to", recipient, "message_id", resp.ID, "chars", len(body))
	return DeliveryResult{MessageID: resp.ID, Status: resp.Status()}, nil
}

// LogSender only logs outbound messages. It backs local runs without Telnyx credentials.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, body string) (DeliveryResult, error) {
	s.logger.Info("sms (not sent)", "to", NormalizeE164(to), "body", body)
	return DeliveryResult{Status: "logged"}, nil
}
