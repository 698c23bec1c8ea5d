package inbound

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedStore records provider webhook event ids so retried deliveries are
// handled once.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	// Release forgets a claimed event so a redelivery is handled again.
	Release(ctx context.Context, provider, eventID string) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresProcessedStore implements ProcessedStore on processed_events.
type PostgresProcessedStore struct {
	db execer
}

func NewPostgresProcessedStore(pool *pgxpool.Pool) *PostgresProcessedStore {
	if pool == nil {
		panic("inbound: pgx pool required")
	}
	return &PostgresProcessedStore{db: pool}
}

func newPostgresProcessedStoreWithDB(db execer) *PostgresProcessedStore {
	if db == nil {
		panic("inbound: db required")
	}
	return &PostgresProcessedStore{db: db}
}

// MarkProcessed returns false when the event id was already recorded.
func (s *PostgresProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("inbound: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	query := `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`
	if _, err := s.db.Exec(ctx, query, provider, eventID); err != nil {
		return fmt.Errorf("inbound: release processed: %w", err)
	}
	return nil
}

// MemoryProcessedStore is an in-process ProcessedStore.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

func (s *MemoryProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, provider+":"+eventID)
	return nil
}
