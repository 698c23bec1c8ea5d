// Package calendar reads busy time from and writes booked visits to the clinic's
// Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

var calendarTracer = otel.Tracer("dental.internal.calendar")

// Event is a calendar entry created for a booked appointment.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// InsertResult reports the outcome of InsertEvent. Reference is the provider
// event id and is empty when Success is false.
type InsertResult struct {
	Success   bool
	Reference string
}

// GoogleCalendar wraps a single Google calendar.
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	logger     *logging.Logger
}

// New builds a client for calendarID. Credentials come from opts
// (option.WithCredentialsJSON in production).
func New(ctx context.Context, calendarID string, logger *logging.Logger, opts ...option.ClientOption) (*GoogleCalendar, error) {
	calendarID = strings.TrimSpace(calendarID)
	if calendarID == "" {
		return nil, errors.New("calendar: calendar id required")
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, logger: logger}, nil
}

// ListBusyIntervals returns the busy periods overlapping [start, end).
func (g *GoogleCalendar) ListBusyIntervals(ctx context.Context, start, end time.Time) ([]scheduling.Interval, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.freebusy")
	defer span.End()

	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calendar: freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar: freebusy response missing calendar %q", g.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy %s: %s", cal.Errors[0].Domain, cal.Errors[0].Reason)
	}

	out := make([]scheduling.Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		if period == nil {
			continue
		}
		s, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start %q: %w", period.Start, err)
		}
		e, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end %q: %w", period.End, err)
		}
		out = append(out, scheduling.Interval{Start: s, End: e})
	}
	return out, nil
}

// InsertEvent creates an event. Provider failures are reported as an
// unsuccessful result together with the error.
func (g *GoogleCalendar) InsertEvent(ctx context.Context, ev Event) (InsertResult, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.insert_event")
	defer span.End()

	if !ev.End.After(ev.Start) {
		return InsertResult{}, errors.New("calendar: event end must be after start")
	}
	created, err := g.svc.Events.Insert(g.calendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("calendar event insert failed", "calendar_id", g.calendarID, "error", err)
		return InsertResult{}, fmt.Errorf("calendar: insert event: %w", err)
	}
	return InsertResult{Success: true, Reference: created.Id}, nil
}
