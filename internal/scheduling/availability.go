package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

var schedulingTracer = otel.Tracer("dental.internal.scheduling")

// ErrBusyLookup wraps failures of the blocked-date, calendar or appointment
// lookups. AvailableSlots still returns an empty, non-nil slot list with it.
var ErrBusyLookup = errors.New("scheduling: busy lookup failed")

// Interval is a half-open [Start, End) range of instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end) intersects i. Touching ranges do not overlap.
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && i.Start.Before(end)
}

// BusyIntervalSource lists externally booked time, e.g. the clinic calendar.
type BusyIntervalSource interface {
	ListBusyIntervals(ctx context.Context, start, end time.Time) ([]Interval, error)
}

// AppointmentSource lists non-cancelled local appointments on a date.
type AppointmentSource interface {
	ListActiveOnDate(ctx context.Context, date Date) ([]Interval, error)
}

// BlockedDateChecker reports whether a date is closed to booking.
type BlockedDateChecker interface {
	IsBlocked(ctx context.Context, date Date) (bool, error)
}

// Engine computes bookable slot start times for a date.
type Engine struct {
	policy   Policy
	busy     BusyIntervalSource
	appts    AppointmentSource
	blocked  BlockedDateChecker
	logger   *logging.Logger
	metrics  *metrics.AvailabilityMetrics
	clockNow func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithBusySource wires the external calendar.
func WithBusySource(src BusyIntervalSource) EngineOption {
	return func(e *Engine) { e.busy = src }
}

// WithAppointments wires local appointment overlap checks.
func WithAppointments(src AppointmentSource) EngineOption {
	return func(e *Engine) { e.appts = src }
}

// WithBlockedDates wires the blocked-date lookup.
func WithBlockedDates(checker BlockedDateChecker) EngineOption {
	return func(e *Engine) { e.blocked = checker }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAvailabilityMetrics wires Prometheus metrics.
func WithAvailabilityMetrics(m *metrics.AvailabilityMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an Engine for the given policy.
func NewEngine(policy Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		policy:   policy,
		logger:   logging.Default(),
		clockNow: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Location returns the facility zone slots are expressed in.
func (e *Engine) Location() *time.Location {
	return e.policy.location()
}

// AvailableSlots returns the ascending "HH:MM" start times on date that can
// hold an appointment of durationMinutes, given the current instant now.
//
// When a lookup fails the result is an empty list together with an error
// wrapping ErrBusyLookup; callers should show no availability and log.
func (e *Engine) AvailableSlots(ctx context.Context, date Date, durationMinutes int, now time.Time) ([]string, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.available_slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.date", date.String()),
		attribute.Int("dental.duration_minutes", durationMinutes),
	)

	started := e.clockNow()
	slots, result, err := e.availableSlots(ctx, date, durationMinutes, now)
	e.metrics.ObserveQuery(result, e.clockNow().Sub(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return []string{}, err
	}
	return slots, nil
}

func (e *Engine) availableSlots(ctx context.Context, date Date, durationMinutes int, now time.Time) ([]string, string, error) {
	slots := []string{}
	if durationMinutes <= 0 || date.IsZero() {
		return slots, "invalid", nil
	}

	if e.blocked != nil {
		blocked, err := e.blocked.IsBlocked(ctx, date)
		if err != nil {
			return nil, "lookup_error", fmt.Errorf("%w: blocked dates: %w", ErrBusyLookup, err)
		}
		if blocked {
			return slots, "blocked", nil
		}
	}

	day := e.policy.DayFor(date.Weekday())
	if day == nil {
		return slots, "closed", nil
	}
	window, err := day.window()
	if err != nil {
		return nil, "invalid", fmt.Errorf("scheduling: %s policy: %w", date.Weekday(), err)
	}

	loc := e.policy.location()
	busy, booked, err := e.lookupBusy(ctx, date, loc)
	if err != nil {
		return nil, "lookup_error", err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	earliest := now.Add(e.policy.leadTime())
	stride := e.policy.strideMinutes()
	for m := window.open; m+durationMinutes <= window.close; m += stride {
		if window.hasLunch && m < window.lunchEnd && m+durationMinutes > window.lunchStart {
			continue
		}
		start := date.At(m, loc)
		if start.Before(earliest) {
			continue
		}
		end := start.Add(duration)
		if overlapsAny(busy, start, end) || overlapsAny(booked, start, end) {
			continue
		}
		slots = append(slots, start.In(loc).Format("15:04"))
	}
	return slots, "ok", nil
}

// lookupBusy fetches calendar busy intervals and local appointments for the
// day concurrently.
func (e *Engine) lookupBusy(ctx context.Context, date Date, loc *time.Location) ([]Interval, []Interval, error) {
	var busy, booked []Interval
	g, gctx := errgroup.WithContext(ctx)
	if e.busy != nil {
		g.Go(func() error {
			intervals, err := e.busy.ListBusyIntervals(gctx, date.Midnight(loc), date.AddDays(1).Midnight(loc))
			if err != nil {
				return fmt.Errorf("%w: calendar: %w", ErrBusyLookup, err)
			}
			busy = intervals
			return nil
		})
	}
	if e.appts != nil {
		g.Go(func() error {
			intervals, err := e.appts.ListActiveOnDate(gctx, date)
			if err != nil {
				return fmt.Errorf("%w: appointments: %w", ErrBusyLookup, err)
			}
			booked = intervals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return busy, booked, nil
}

// IsAvailable reports whether hhmm is one of the available slots on date.
func (e *Engine) IsAvailable(ctx context.Context, date Date, hhmm string, durationMinutes int, now time.Time) (bool, error) {
	slots, err := e.AvailableSlots(ctx, date, durationMinutes, now)
	if err != nil {
		return false, err
	}
	for _, slot := range slots {
		if slot == hhmm {
			return true, nil
		}
	}
	return false, nil
}

func overlapsAny(intervals []Interval, start, end time.Time) bool {
	for _, iv := range intervals {
		if iv.Overlaps(start, end) {
			return true
		}
	}
	return false
}
