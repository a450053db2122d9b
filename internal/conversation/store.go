package conversation

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store persists conversations. Every lookup is scoped to the owning user.
type Store interface {
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, userID int64, id string) (*Conversation, error)
	// List returns the user's conversations, most recently updated first.
	List(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error)
	// Search returns conversations whose title contains query.
	Search(ctx context.Context, userID int64, query string, limit int) ([]*Conversation, error)
	// Append adds msgs to the end of the conversation and sets its update time.
	Append(ctx context.Context, userID int64, id string, msgs []Message, at time.Time) (*Conversation, error)
	Delete(ctx context.Context, userID int64, id string) error
	// DeleteAll removes all of the user's conversations and returns how many there were.
	DeleteAll(ctx context.Context, userID int64) (int64, error)
	Count(ctx context.Context, userID int64) (int64, error)
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Conversation)}
}

func clone(c *Conversation) *Conversation {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return &out
}

func (m *MemoryStore) Create(_ context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[c.ID] = clone(c)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID int64, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *MemoryStore) owned(userID int64, match func(*Conversation) bool) []*Conversation {
	var out []*Conversation
	for _, c := range m.items {
		if c.UserID == userID && match(c) {
			out = append(out, clone(c))
		}
	}
	slices.SortFunc(out, func(a, b *Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

func page(items []*Conversation, limit, offset int) []*Conversation {
	if offset >= len(items) {
		return []*Conversation{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *MemoryStore) List(_ context.Context, userID int64, limit, offset int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return page(m.owned(userID, func(*Conversation) bool { return true }), limit, offset), nil
}

func (m *MemoryStore) Search(_ context.Context, userID int64, query string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	return page(m.owned(userID, func(c *Conversation) bool {
		return strings.Contains(strings.ToLower(c.Title), q)
	}), limit, 0), nil
}

func (m *MemoryStore) Append(_ context.Context, userID int64, id string, msgs []Message, at time.Time) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = at
	return clone(c), nil
}

func (m *MemoryStore) Delete(_ context.Context, userID int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) DeleteAll(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.items {
		if c.UserID == userID {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(_ context.Context, userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.items {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}
