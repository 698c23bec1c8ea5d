package bootstrap

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
)

// Metrics groups every collector the binaries register.
type Metrics struct {
	Messaging    *metrics.MessagingMetrics
	Debounce     *metrics.DebounceMetrics
	Availability *metrics.AvailabilityMetrics
	Conversation *metrics.ConversationMetrics
	Handler      http.Handler
}

// NewMetrics registers all collectors on a fresh registry and returns the
// /metrics handler serving it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		Messaging:    metrics.NewMessagingMetrics(reg),
		Debounce:     metrics.NewDebounceMetrics(reg),
		Availability: metrics.NewAvailabilityMetrics(reg),
		Conversation: metrics.NewConversationMetrics(reg),
		Handler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}
