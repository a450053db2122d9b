package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"englishcorner/internal/providers"
)

// Querier is the subset of pgx used by the PostgreSQL stores.
// *pgxpool.Pool, pgx.Tx and pgxmock pools all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const createPostgresTable = `
	CREATE TABLE IF NOT EXISTS user_api_configs (
		user_id BIGINT PRIMARY KEY,
		id TEXT NOT NULL,
		provider TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		is_validated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`

// PostgreSQLStore keeps credentials in PostgreSQL.
type PostgreSQLStore struct {
	db Querier
}

// NewPostgreSQLStore creates the table if needed.
func NewPostgreSQLStore(ctx context.Context, db Querier) (*PostgreSQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(ctx, createPostgresTable); err != nil {
		return nil, fmt.Errorf("failed to create user_api_configs table: %w", err)
	}
	return &PostgreSQLStore{db: db}, nil
}

func (s *PostgreSQLStore) Get(ctx context.Context, userID int64) (*Record, error) {
	var rec Record
	var provider string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, provider, api_key, base_url, model, is_validated, created_at, updated_at
		FROM user_api_configs WHERE user_id = $1`, userID).
		Scan(&rec.ID, &rec.UserID, &provider, &rec.APIKey, &rec.BaseURL, &rec.Model,
			&rec.IsValidated, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	rec.Provider = providers.Name(provider)
	return &rec, nil
}

func (s *PostgreSQLStore) Upsert(ctx context.Context, rec *Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_api_configs
			(user_id, id, provider, api_key, base_url, model, is_validated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			api_key = EXCLUDED.api_key,
			base_url = EXCLUDED.base_url,
			model = EXCLUDED.model,
			is_validated = EXCLUDED.is_validated,
			updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.ID, string(rec.Provider), rec.APIKey, rec.BaseURL, rec.Model, rec.IsValidated,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Delete(ctx context.Context, userID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM user_api_configs WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgreSQLStore) SetValidated(ctx context.Context, userID int64, version time.Time, validated bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE user_api_configs SET is_validated = $1, updated_at = NOW() WHERE user_id = $2 AND updated_at = $3`,
		validated, userID, version)
	if err != nil {
		return fmt.Errorf("failed to update validation state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRow(ctx, `SELECT 1 FROM user_api_configs WHERE user_id = $1`, userID).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("failed to read credential: %w", err)
	}
	return ErrChanged
}
