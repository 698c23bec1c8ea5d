package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps sessions in the sessions table.
type PostgresStore struct {
	db  rowQuerier
	now func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("sessions: pgx pool required")
	}
	return &PostgresStore{db: pool, now: time.Now}
}

func newPostgresStoreWithDB(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("sessions: db required")
	}
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Get(ctx context.Context, sender string) (*Session, error) {
	query := `
		SELECT sender, COALESCE(name, ''), COALESCE(document_id, ''), COALESCE(flow, ''), metadata, updated_at
		FROM sessions
		WHERE sender = $1
	`
	var (
		sess     Session
		metadata []byte
	)
	err := s.db.QueryRow(ctx, query, sender).Scan(&sess.Sender, &sess.Name, &sess.DocumentID, &sess.Flow, &metadata, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("sessions: decode metadata: %w", err)
		}
	}
	return &sess, nil
}

// Upsert merges update into the sender's row in one statement. Columns left
// nil keep their stored value and metadata keys are merged, never replaced
// wholesale.
func (s *PostgresStore) Upsert(ctx context.Context, sender string, update Update) error {
	var metadata any
	if len(update.Metadata) > 0 {
		raw, err := json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("sessions: encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	query := `
		INSERT INTO sessions (sender, name, document_id, flow, metadata, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb), $6)
		ON CONFLICT (sender) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, sessions.name),
			document_id = COALESCE(EXCLUDED.document_id, sessions.document_id),
			flow = COALESCE(EXCLUDED.flow, sessions.flow),
			metadata = sessions.metadata || EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, sender, update.Name, update.DocumentID, update.Flow, metadata, s.now().UTC()); err != nil {
		return fmt.Errorf("sessions: upsert: %w", err)
	}
	return nil
}
