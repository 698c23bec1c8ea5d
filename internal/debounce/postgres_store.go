package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements BufferStore and LockStore on the buffered_messages
// and conversation_locks tables.
type PostgresStore struct {
	db rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("debounce: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("debounce: db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, sender, text string) (int64, error) {
	query := `
		INSERT INTO buffered_messages (sender, body)
		VALUES ($1, $2)
		RETURNING id
	`
	var id int64
	if err := s.db.QueryRow(ctx, query, sender, text).Scan(&id); err != nil {
		return 0, fmt.Errorf("debounce: append fragment: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Fetch(ctx context.Context, sender string) ([]BufferedMessage, error) {
	query := `
		SELECT id, sender, body, received_at
		FROM buffered_messages
		WHERE sender = $1
		ORDER BY id ASC
	`
	rows, err := s.db.Query(ctx, query, sender)
	if err != nil {
		return nil, fmt.Errorf("debounce: fetch fragments: %w", err)
	}
	defer rows.Close()

	var out []BufferedMessage
	for rows.Next() {
		var m BufferedMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("debounce: scan fragment: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("debounce: fetch fragments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM buffered_messages WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("debounce: delete fragments: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM conversation_locks WHERE locked_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("debounce: reap stale locks: %w", err)
	}
	return ct.RowsAffected(), nil
}

// TryAcquire relies on the primary key: a conflicting insert is a no-op and
// reports zero rows, which means the lock is already held.
func (s *PostgresStore) TryAcquire(ctx context.Context, sender string, at time.Time) (bool, error) {
	query := `
		INSERT INTO conversation_locks (sender, locked_at)
		VALUES ($1, $2)
		ON CONFLICT (sender) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, sender, at.UTC())
	if err != nil {
		return false, fmt.Errorf("debounce: acquire lock: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, sender string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conversation_locks WHERE sender = $1`, sender); err != nil {
		return fmt.Errorf("debounce: release lock: %w", err)
	}
	return nil
}
