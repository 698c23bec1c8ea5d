package bootstrap

import (
	"strings"

	appconfig "github.com/wolfman30/dental-booking-platform/internal/config"
	"github.com/wolfman30/dental-booking-platform/internal/messaging"
	"github.com/wolfman30/dental-booking-platform/internal/messaging/telnyxclient"
	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

// BuildTelnyxClient returns nil when no API key is configured.
func BuildTelnyxClient(cfg *appconfig.Config, logger *logging.Logger) (*telnyxclient.Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.TelnyxAPIKey) == "" {
		return nil, nil
	}
	return telnyxclient.New(telnyxclient.Config{
		APIKey:        cfg.TelnyxAPIKey,
		WebhookSecret: cfg.TelnyxWebhookSecret,
		MaxRetries:    2,
		Logger:        logger,
	})
}

// BuildOutboundSender picks the Telnyx sender when credentials and a from
// number are present, otherwise a sender that only logs. The second return
// value names the choice for startup logs.
func BuildOutboundSender(cfg *appconfig.Config, client *telnyxclient.Client, m *metrics.MessagingMetrics, logger *logging.Logger) (messaging.Sender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if client == nil || cfg == nil || strings.TrimSpace(cfg.TelnyxFromNumber) == "" {
		logger.Warn("telnyx not configured; outbound replies will only be logged")
		return messaging.NewLogSender(logger), "log"
	}
	return messaging.NewTelnyxSender(client, cfg.TelnyxFromNumber, cfg.TelnyxMessagingProfileID, m, logger), "telnyx"
}
