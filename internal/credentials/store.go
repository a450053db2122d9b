package credentials

import (
	"context"
	"sync"
	"time"
)

// Store persists credential records, one per user.
type Store interface {
	// Get returns the user's record or ErrNotFound.
	Get(ctx context.Context, userID int64) (*Record, error)
	// Upsert writes rec, replacing any existing record for rec.UserID.
	Upsert(ctx context.Context, rec *Record) error
	// Delete removes the user's record or returns ErrNotFound.
	Delete(ctx context.Context, userID int64) error
	// SetValidated updates the validation flag of the record last written at
	// version. It returns ErrChanged when the record has been written since,
	// and ErrNotFound when there is none.
	SetValidated(ctx context.Context, userID int64, version time.Time, validated bool) error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record)}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = *rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID]; !ok {
		return ErrNotFound
	}
	delete(m.records, userID)
	return nil
}

func (m *MemoryStore) SetValidated(_ context.Context, userID int64, version time.Time, validated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return ErrNotFound
	}
	if !rec.UpdatedAt.Equal(version) {
		return ErrChanged
	}
	rec.IsValidated = validated
	rec.UpdatedAt = time.Now().UTC()
	m.records[userID] = rec
	return nil
}
