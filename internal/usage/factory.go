package usage

import (
	"context"
	"fmt"

	"englishcorner/internal/storage"
)

// NewStore returns the usage store backed by store's database.
func NewStore(ctx context.Context, store storage.Storage, retentionDays int) (Store, error) {
	switch store.Type() {
	case storage.TypeMemory:
		return NewMemoryStore(), nil
	case storage.TypeSQLite:
		return NewSQLiteStore(ctx, store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// New returns the recorder for cfg and the store it writes to.
// When tracking is disabled the recorder is a NoopLogger and the store is nil.
func New(ctx context.Context, cfg Config, store storage.Storage) (Recorder, Store, error) {
	if !cfg.Enabled {
		return NoopLogger{}, nil, nil
	}
	if store == nil {
		return nil, nil, fmt.Errorf("storage is required when usage tracking is enabled")
	}
	usageStore, err := NewStore(ctx, store, cfg.RetentionDays)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(usageStore, cfg), usageStore, nil
}
