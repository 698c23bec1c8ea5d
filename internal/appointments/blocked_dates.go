package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
)

// BlockedDate is a day closed to booking regardless of the weekly schedule.
type BlockedDate struct {
	Date   scheduling.Date `json:"date"`
	Reason string          `json:"reason,omitempty"`
}

// BlockedDates persists the blocked_dates table.
type BlockedDates struct {
	db rowQuerier
}

func NewBlockedDates(pool *pgxpool.Pool) *BlockedDates {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &BlockedDates{db: pool}
}

func newBlockedDatesWithDB(db rowQuerier) *BlockedDates {
	if db == nil {
		panic("appointments: db required")
	}
	return &BlockedDates{db: db}
}

func (b *BlockedDates) IsBlocked(ctx context.Context, date scheduling.Date) (bool, error) {
	var exists int
	err := b.db.QueryRow(ctx, `SELECT 1 FROM blocked_dates WHERE blocked_on = $1::date`, date.String()).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("appointments: check blocked date: %w", err)
	}
	return true, nil
}

// List returns blocked dates in [from, to], ascending.
func (b *BlockedDates) List(ctx context.Context, from, to scheduling.Date) ([]BlockedDate, error) {
	query := `
		SELECT blocked_on, COALESCE(reason, '')
		FROM blocked_dates
		WHERE blocked_on BETWEEN $1::date AND $2::date
		ORDER BY blocked_on
	`
	rows, err := b.db.Query(ctx, query, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("appointments: list blocked dates: %w", err)
	}
	defer rows.Close()

	out := []BlockedDate{}
	for rows.Next() {
		var (
			day    time.Time
			reason string
		)
		if err := rows.Scan(&day, &reason); err != nil {
			return nil, fmt.Errorf("appointments: scan blocked date: %w", err)
		}
		out = append(out, BlockedDate{Date: scheduling.DateOf(day, time.UTC), Reason: reason})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list blocked dates: %w", err)
	}
	return out, nil
}

// Add blocks a date, replacing the reason if it was already blocked.
func (b *BlockedDates) Add(ctx context.Context, date scheduling.Date, reason string) error {
	query := `
		INSERT INTO blocked_dates (blocked_on, reason)
		VALUES ($1::date, NULLIF($2, ''))
		ON CONFLICT (blocked_on) DO UPDATE SET reason = EXCLUDED.reason
	`
	if _, err := b.db.Exec(ctx, query, date.String(), reason); err != nil {
		return fmt.Errorf("appointments: block date: %w", err)
	}
	return nil
}

// Remove unblocks a date and reports whether it had been blocked.
func (b *BlockedDates) Remove(ctx context.Context, date scheduling.Date) (bool, error) {
	ct, err := b.db.Exec(ctx, `DELETE FROM blocked_dates WHERE blocked_on = $1::date`, date.String())
	if err != nil {
		return false, fmt.Errorf("appointments: unblock date: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
