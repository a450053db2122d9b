package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps credentials in the user_api_configs table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the table if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_api_configs (
			user_id INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			provider TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			is_validated INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create user_api_configs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, api_key, base_url, model, is_validated, created_at, updated_at
		FROM user_api_configs WHERE user_id = ?`, userID)

	var rec Record
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Provider, &rec.APIKey, &rec.BaseURL, &rec.Model,
		&rec.IsValidated, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_api_configs
			(user_id, id, provider, api_key, base_url, model, is_validated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			provider = excluded.provider,
			api_key = excluded.api_key,
			base_url = excluded.base_url,
			model = excluded.model,
			is_validated = excluded.is_validated,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.ID, string(rec.Provider), rec.APIKey, rec.BaseURL, rec.Model, rec.IsValidated,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_api_configs WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetValidated(ctx context.Context, userID int64, version time.Time, validated bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_api_configs SET is_validated = ?, updated_at = ? WHERE user_id = ? AND updated_at = ?`,
		validated, time.Now().UTC().Format(time.RFC3339Nano), userID, version.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to update validation state: %w", err)
	}
	if err := requireAffected(res); !errors.Is(err, ErrNotFound) {
		return err
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM user_api_configs WHERE user_id = ?`, userID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("failed to read credential: %w", err)
	}
	return ErrChanged
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
