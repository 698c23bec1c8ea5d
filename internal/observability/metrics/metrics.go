package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dental"

// MessagingMetrics exposes counters/histograms for messaging flows.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound messaging webhooks",
		}, []string{"event_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound message sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of messaging webhook handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(mode).Observe(seconds)
}

// DebounceMetrics tracks the burst coordinator.
type DebounceMetrics struct {
	fragments      prometheus.Counter
	lockOutcomes   *prometheus.CounterVec
	bursts         *prometheus.CounterVec
	burstFragments prometheus.Histogram
	staleReaped    prometheus.Counter
}

func NewDebounceMetrics(reg prometheus.Registerer) *DebounceMetrics {
	m := &DebounceMetrics{
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "fragments_buffered_total",
			Help:      "Inbound fragments appended to the buffer",
		}),
		lockOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "lock_attempts_total",
			Help:      "Conversation lock attempts by outcome (acquired, held, error)",
		}, []string{"outcome"}),
		bursts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "bursts_total",
			Help:      "Drained bursts handed to the conversation processor",
		}, []string{"status"}),
		burstFragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "burst_fragments",
			Help:      "Fragments joined into one processed burst",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		staleReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "stale_locks_reaped_total",
			Help:      "Conversation locks removed after exceeding the TTL",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.fragments, m.lockOutcomes, m.bursts, m.burstFragments, m.staleReaped)
	return m
}

func (m *DebounceMetrics) ObserveFragment() {
	if m == nil {
		return
	}
	m.fragments.Inc()
}

func (m *DebounceMetrics) ObserveLock(outcome string) {
	if m == nil {
		return
	}
	m.lockOutcomes.WithLabelValues(outcome).Inc()
}

func (m *DebounceMetrics) ObserveBurst(status string, fragments int) {
	if m == nil {
		return
	}
	m.bursts.WithLabelValues(status).Inc()
	m.burstFragments.Observe(float64(fragments))
}

func (m *DebounceMetrics) ObserveReaped(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.staleReaped.Add(float64(count))
}

// AvailabilityMetrics tracks slot computation.
type AvailabilityMetrics struct {
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
}

func NewAvailabilityMetrics(reg prometheus.Registerer) *AvailabilityMetrics {
	m := &AvailabilityMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "queries_total",
			Help:      "Availability queries by result (ok, closed, blocked, lookup_error)",
		}, []string{"result"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "query_seconds",
			Help:      "Time spent computing available slots",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queries, m.queryDuration)
	return m
}

func (m *AvailabilityMetrics) ObserveQuery(result string, seconds float64) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(result).Inc()
	m.queryDuration.Observe(seconds)
}

// ConversationMetrics tracks processed bursts and bookings.
type ConversationMetrics struct {
	turns      *prometheus.CounterVec
	bookings   *prometheus.CounterVec
	llmLatency prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Processed conversation turns by outcome",
		}, []string{"outcome"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "bookings_total",
			Help:      "Booking attempts by result (booked, slot_taken, failed)",
		}, []string{"result"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "llm_seconds",
			Help:      "LLM completion latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turns, m.bookings, m.llmLatency)
	return m
}

func (m *ConversationMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *ConversationMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *ConversationMetrics) ObserveLLM(seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(seconds)
}
