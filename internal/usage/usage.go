// Package usage records token usage of completed replies.
// Entries are buffered in memory and written to the shared database in batches.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"englishcorner/internal/core"
)

// BatchFlushThreshold is the batch size that triggers a write without waiting for the ticker.
const BatchFlushThreshold = 100

// Store persists usage entries. Implementations must be safe for concurrent use.
type Store interface {
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Summary aggregates a user's entries at or after since. A zero since means all time.
	Summary(ctx context.Context, userID int64, since time.Time) (*Summary, error)

	// Flush forces pending writes to complete. Called during shutdown.
	Flush(ctx context.Context) error

	Close() error
}

// Entry is one completed reply.
type Entry struct {
	ID        string    `json:"id" bson:"_id"`
	RequestID string    `json:"request_id" bson:"request_id"`
	UserID    int64     `json:"user_id" bson:"user_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Provider string `json:"provider" bson:"provider"`
	Model    string `json:"model" bson:"model"`
	// SystemCredential is true when the operator's fallback key paid for the reply.
	SystemCredential bool `json:"system_credential" bson:"system_credential"`
	Stream           bool `json:"stream" bson:"stream"`

	PromptTokens     int `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" bson:"total_tokens"`
}

// Summary holds aggregated usage for one user.
type Summary struct {
	Requests         int64 `json:"requests"`
	SystemRequests   int64 `json:"system_requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (s *Summary) add(e *Entry) {
	s.Requests++
	if e.SystemCredential {
		s.SystemRequests++
	}
	s.PromptTokens += int64(e.PromptTokens)
	s.CompletionTokens += int64(e.CompletionTokens)
	s.TotalTokens += int64(e.TotalTokens)
}

// NewEntry builds an entry from a completed reply.
// Streams carry no token counts, so only the request is counted for them.
func NewEntry(ctx context.Context, resp *core.AIResponse, stream bool) *Entry {
	userID, _ := core.GetUserID(ctx)
	e := &Entry{
		ID:               uuid.NewString(),
		RequestID:        core.GetRequestID(ctx),
		UserID:           userID,
		Timestamp:        time.Now().UTC(),
		Provider:         resp.Provider,
		Model:            resp.Model,
		SystemCredential: resp.SystemCredential,
		Stream:           stream,
	}
	if u := resp.Usage; u != nil {
		e.PromptTokens = u.PromptTokens
		e.CompletionTokens = u.CompletionTokens
		e.TotalTokens = u.TotalTokens
		if e.TotalTokens == 0 {
			e.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
	}
	return e
}

// Config holds usage tracking configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// BufferSize is how many entries may wait in memory before new ones are dropped.
	BufferSize int `yaml:"buffer_size"`

	FlushInterval time.Duration `yaml:"flush_interval"`

	// RetentionDays is how long to keep entries (0 = forever).
	RetentionDays int `yaml:"retention_days"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
