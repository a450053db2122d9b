package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used by PostgreSQLStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertPostgresEntry = `
	INSERT INTO usage (id, request_id, user_id, timestamp, provider, model,
		system_credential, stream, prompt_tokens, completion_tokens, total_tokens)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore writes entries to the usage table.
type PostgreSQLStore struct {
	db            Querier
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

func NewPostgreSQLStore(ctx context.Context, db Querier, retentionDays int) (*PostgreSQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			user_id BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			system_credential BOOLEAN NOT NULL DEFAULT FALSE,
			stream BOOLEAN NOT NULL DEFAULT FALSE,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}
	if _, err := db.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS idx_usage_user_timestamp ON usage(user_id, timestamp)"); err != nil {
		slog.Warn("failed to create index", "error", err)
	}

	store := &PostgreSQLStore{db: db, retentionDays: retentionDays, stopCleanup: make(chan struct{})}
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}
	return store, nil
}

// WriteBatch queues one insert per entry in a single round trip.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertPostgresEntry,
			e.ID, e.RequestID, e.UserID, e.Timestamp, e.Provider, e.Model,
			e.SystemCredential, e.Stream, e.PromptTokens, e.CompletionTokens, e.TotalTokens)
	}

	results := s.db.SendBatch(ctx, batch)
	var errs []error
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert usage entries: %w", errors.Join(errs...))
	}
	return nil
}

func (s *PostgreSQLStore) Summary(ctx context.Context, userID int64, since time.Time) (*Summary, error) {
	out := &Summary{}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE system_credential), COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM usage WHERE user_id = $1 AND timestamp >= $2`, userID, since).
		Scan(&out.Requests, &out.SystemRequests, &out.PromptTokens, &out.CompletionTokens, &out.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	return out, nil
}

func (s *PostgreSQLStore) Flush(context.Context) error { return nil }

// Close stops the cleanup goroutine. The pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tag, err := s.db.Exec(ctx, "DELETE FROM usage WHERE timestamp < $1", retentionCutoff(s.retentionDays))
	if err != nil {
		slog.Error("failed to cleanup old usage entries", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		slog.Info("cleaned up old usage entries", "deleted", tag.RowsAffected())
	}
}
