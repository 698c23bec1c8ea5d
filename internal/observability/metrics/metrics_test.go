package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var d *DebounceMetrics
	d.ObserveFragment()
	d.ObserveLock("acquired")
	d.ObserveBurst("ok", 2)
	d.ObserveReaped(3)

	var a *AvailabilityMetrics
	a.ObserveQuery("ok", 0.1)

	var m *MessagingMetrics
	m.ObserveInbound("message.received", "ok")
	m.ObserveOutbound("sent")
	m.ObserveWebhookLatency("inline", 0.2)

	var c *ConversationMetrics
	c.ObserveTurn("replied")
	c.ObserveBooking("booked")
	c.ObserveLLM(1.5)
}

func TestDebounceMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDebounceMetrics(reg)

	m.ObserveFragment()
	m.ObserveFragment()
	m.ObserveLock("acquired")
	m.ObserveLock("held")
	m.ObserveLock("held")
	m.ObserveBurst("ok", 3)
	m.ObserveReaped(0)
	m.ObserveReaped(2)

	if got := testutil.ToFloat64(m.fragments); got != 2 {
		t.Fatalf("expected 2 fragments, got %v", got)
	}
	if got := testutil.ToFloat64(m.lockOutcomes.WithLabelValues("held")); got != 2 {
		t.Fatalf("expected 2 held outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(m.staleReaped); got != 2 {
		t.Fatalf("expected 2 reaped locks, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var hist *dto.Histogram
	for _, fam := range families {
		if fam.GetName() == "dental_debounce_burst_fragments" {
			hist = fam.GetMetric()[0].GetHistogram()
		}
	}
	if hist == nil {
		t.Fatalf("burst fragments histogram not registered")
	}
	if hist.GetSampleCount() != 1 || hist.GetSampleSum() != 3 {
		t.Fatalf("unexpected histogram sample count=%d sum=%v", hist.GetSampleCount(), hist.GetSampleSum())
	}
}

func TestAvailabilityMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAvailabilityMetrics(reg)
	m.ObserveQuery("lookup_error", 0.5)
	if got := testutil.ToFloat64(m.queries.WithLabelValues("lookup_error")); got != 1 {
		t.Fatalf("expected 1 lookup error, got %v", got)
	}
}

func TestConversationMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)

	m.ObserveTurn("replied")
	m.ObserveBooking("booked")
	m.ObserveBooking("slot_taken")
	m.ObserveBooking("slot_taken")

	if got := testutil.ToFloat64(m.bookings.WithLabelValues("slot_taken")); got != 2 {
		t.Fatalf("expected 2 slot_taken bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.turns.WithLabelValues("replied")); got != 1 {
		t.Fatalf("expected 1 replied turn, got %v", got)
	}
}
