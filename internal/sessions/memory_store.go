package sessions

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same merge semantics as PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), now: time.Now}
}

func (m *MemoryStore) Get(ctx context.Context, sender string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sender]
	if !ok {
		return nil, nil
	}
	sess.Metadata = maps.Clone(sess.Metadata)
	return &sess, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, sender string, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sender]
	if !ok {
		sess = Session{Sender: sender, Metadata: map[string]any{}}
	}
	if update.Name != nil {
		sess.Name = *update.Name
	}
	if update.DocumentID != nil {
		sess.DocumentID = *update.DocumentID
	}
	if update.Flow != nil {
		sess.Flow = *update.Flow
	}
	merged := maps.Clone(sess.Metadata)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, update.Metadata)
	sess.Metadata = merged
	sess.UpdatedAt = m.now().UTC()
	m.sessions[sender] = sess
	return nil
}
