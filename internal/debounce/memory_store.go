package debounce

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process BufferStore and LockStore for local runs and tests.
// It only coordinates goroutines inside one process.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []BufferedMessage
	locks    map[string]time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, sender, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.messages = append(s.messages, BufferedMessage{
		ID:         s.nextID,
		Sender:     sender,
		Text:       text,
		ReceivedAt: s.now().UTC(),
	})
	return s.nextID, nil
}

func (s *MemoryStore) Fetch(ctx context.Context, sender string) ([]BufferedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BufferedMessage
	for _, m := range s.messages {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *MemoryStore) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped int64
	for sender, at := range s.locks {
		if at.Before(olderThan) {
			delete(s.locks, sender)
			reaped++
		}
	}
	return reaped, nil
}

func (s *MemoryStore) TryAcquire(ctx context.Context, sender string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[sender]; held {
		return false, nil
	}
	s.locks[sender] = at
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sender)
	return nil
}

// Pending returns the number of buffered fragments for sender.
func (s *MemoryStore) Pending(sender string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Sender == sender {
			n++
		}
	}
	return n
}

// Locked reports whether sender's lock is currently held.
func (s *MemoryStore) Locked(sender string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[sender]
	return held
}
