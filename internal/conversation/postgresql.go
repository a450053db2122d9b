package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used by PostgreSQLStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgreSQLStore keeps conversations in PostgreSQL with messages as JSONB.
type PostgreSQLStore struct {
	db Querier
}

// NewPostgreSQLStore creates the table and index if needed.
func NewPostgreSQLStore(ctx context.Context, db Querier) (*PostgreSQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations table: %w", err)
	}
	_, err = db.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at DESC)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations index: %w", err)
	}
	return &PostgreSQLStore{db: db}, nil
}

const pgColumns = `id, user_id, title, messages, created_at, updated_at`

func scanPostgres(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var messages []byte
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &messages, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *PostgreSQLStore) Create(ctx context.Context, c *Conversation) error {
	messages, err := json.Marshal(nonNil(c.Messages))
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO conversations (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.Title, messages, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Get(ctx context.Context, userID int64, id string) (*Conversation, error) {
	c, err := scanPostgres(s.db.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM conversations WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	return c, nil
}

func (s *PostgreSQLStore) query(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	out := []*Conversation{}
	for rows.Next() {
		c, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgreSQLStore) List(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error) {
	return s.query(ctx, `SELECT `+pgColumns+` FROM conversations
		WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

func (s *PostgreSQLStore) Search(ctx context.Context, userID int64, query string, limit int) ([]*Conversation, error) {
	return s.query(ctx, `SELECT `+pgColumns+` FROM conversations
		WHERE user_id = $1 AND title ILIKE $2 ORDER BY updated_at DESC LIMIT $3`,
		userID, "%"+escapeLike(query)+"%", limit)
}

// Append concatenates in a single statement so concurrent appends do not lose turns.
func (s *PostgreSQLStore) Append(ctx context.Context, userID int64, id string, msgs []Message, at time.Time) (*Conversation, error) {
	extra, err := json.Marshal(nonNil(msgs))
	if err != nil {
		return nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	c, err := scanPostgres(s.db.QueryRow(ctx, `
		UPDATE conversations SET messages = messages || $1::jsonb, updated_at = $2
		WHERE id = $3 AND user_id = $4
		RETURNING `+pgColumns, extra, at, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return c, nil
}

func (s *PostgreSQLStore) Delete(ctx context.Context, userID int64, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgreSQLStore) DeleteAll(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgreSQLStore) Count(ctx context.Context, userID int64) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}
