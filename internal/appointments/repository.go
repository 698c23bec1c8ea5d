// Package appointments stores booked appointments and clinic-wide blocked dates.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
)

const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"

	exclusionViolation = "23P01"
)

// ErrSlotTaken is returned when the requested interval overlaps another
// non-cancelled appointment.
var ErrSlotTaken = errors.New("appointments: slot already taken")

// ErrNotFound is returned when an appointment id does not exist.
var ErrNotFound = errors.New("appointments: not found")

var appointmentsTracer = otel.Tracer("dental.internal.appointments")

// Appointment is one booked visit.
type Appointment struct {
	ID              int64
	Date            scheduling.Date
	Time            string // "HH:MM" in the facility zone
	DurationMinutes int
	Status          string
	PatientName     string
	DocumentID      string
	Phone           string
	Reason          string
	CalendarEventID string
	StartsAt        time.Time
	EndsAt          time.Time
	CreatedAt       time.Time
}

// Schedule fills StartsAt and EndsAt from Date, Time and DurationMinutes.
func (a *Appointment) Schedule(loc *time.Location) error {
	if a.Date.IsZero() {
		return errors.New("appointments: date required")
	}
	if a.DurationMinutes <= 0 {
		return errors.New("appointments: duration must be positive")
	}
	clock, err := time.Parse("15:04", strings.TrimSpace(a.Time))
	if err != nil {
		return fmt.Errorf("appointments: invalid time %q", a.Time)
	}
	a.Time = clock.Format("15:04")
	a.StartsAt = a.Date.At(clock.Hour()*60+clock.Minute(), loc)
	a.EndsAt = a.StartsAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
	return nil
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists appointments.
type Repository struct {
	db rowQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db rowQuerier) *Repository {
	if db == nil {
		panic("appointments: db required")
	}
	return &Repository{db: db}
}

// ListActiveOnDate returns the intervals of every non-cancelled appointment on date.
func (r *Repository) ListActiveOnDate(ctx context.Context, date scheduling.Date) ([]scheduling.Interval, error) {
	query := `
		SELECT starts_at, ends_at
		FROM appointments
		WHERE appointment_date = $1::date AND status <> 'cancelled'
		ORDER BY starts_at
	`
	rows, err := r.db.Query(ctx, query, date.String())
	if err != nil {
		return nil, fmt.Errorf("appointments: list active: %w", err)
	}
	defer rows.Close()

	var out []scheduling.Interval
	for rows.Next() {
		var iv scheduling.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("appointments: scan interval: %w", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list active: %w", err)
	}
	return out, nil
}

// Create inserts a scheduled appointment. StartsAt/EndsAt must already be set
// (see Schedule). An overlapping booking yields ErrSlotTaken.
func (r *Repository) Create(ctx context.Context, appt *Appointment) error {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("dental.date", appt.Date.String()),
		attribute.String("dental.time", appt.Time),
	)

	if appt.StartsAt.IsZero() || !appt.EndsAt.After(appt.StartsAt) {
		return errors.New("appointments: appointment interval not scheduled")
	}
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	query := `
		INSERT INTO appointments (
			appointment_date, start_time, duration_minutes, starts_at, ends_at, status,
			patient_name, document_id, phone, reason
		) VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		appt.Date.String(), appt.Time, appt.DurationMinutes, appt.StartsAt.UTC(), appt.EndsAt.UTC(), appt.Status,
		appt.PatientName, appt.DocumentID, appt.Phone, appt.Reason,
	).Scan(&appt.ID, &appt.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return ErrSlotTaken
		}
		span.RecordError(err)
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// SetCalendarEvent records the external calendar reference for an appointment.
func (r *Repository) SetCalendarEvent(ctx context.Context, id int64, reference string) error {
	ct, err := r.db.Exec(ctx, `UPDATE appointments SET calendar_event_id = $2 WHERE id = $1`, id, reference)
	if err != nil {
		return fmt.Errorf("appointments: set calendar event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel marks an appointment cancelled, freeing its interval.
func (r *Repository) Cancel(ctx context.Context, id int64) error {
	ct, err := r.db.Exec(ctx, `UPDATE appointments SET status = 'cancelled' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
