package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) WriteBatch(_ context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemoryStore) Summary(_ context.Context, userID int64, since time.Time) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &Summary{}
	for _, e := range m.entries {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			out.add(e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Flush(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
