//go:build integration

package dbassert

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsageEntry mirrors usage.Entry for test assertions.
type UsageEntry struct {
	ID               string    `bson:"_id"`
	RequestID        string    `bson:"request_id"`
	UserID           int64     `bson:"user_id"`
	Timestamp        time.Time `bson:"timestamp"`
	Provider         string    `bson:"provider"`
	Model            string    `bson:"model"`
	SystemCredential bool      `bson:"system_credential"`
	Stream           bool      `bson:"stream"`
	PromptTokens     int       `bson:"prompt_tokens"`
	CompletionTokens int       `bson:"completion_tokens"`
	TotalTokens      int       `bson:"total_tokens"`
}

// QueryUsageByRequestID queries usage entries by request ID from PostgreSQL.
func QueryUsageByRequestID(t *testing.T, pool *pgxpool.Pool, requestID string) []UsageEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `
		SELECT id::text, request_id, user_id, timestamp, provider, model,
		       system_credential, stream, prompt_tokens, completion_tokens, total_tokens
		FROM usage
		WHERE request_id = $1
		ORDER BY timestamp ASC
	`, requestID)
	require.NoError(t, err, "failed to query usage entries")
	defer rows.Close()

	var entries []UsageEntry
	for rows.Next() {
		var e UsageEntry
		err := rows.Scan(&e.ID, &e.RequestID, &e.UserID, &e.Timestamp, &e.Provider, &e.Model,
			&e.SystemCredential, &e.Stream, &e.PromptTokens, &e.CompletionTokens, &e.TotalTokens)
		require.NoError(t, err, "failed to scan usage row")
		entries = append(entries, e)
	}
	require.NoError(t, rows.Err())
	return entries
}

// QueryUsageByRequestIDMongo queries usage entries by request ID from MongoDB.
func QueryUsageByRequestIDMongo(t *testing.T, db *mongo.Database, requestID string) []UsageEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection("usage").Find(ctx, bson.M{"request_id": requestID})
	require.NoError(t, err, "failed to query usage entries")

	var entries []UsageEntry
	require.NoError(t, cursor.All(ctx, &entries), "failed to decode usage entries")
	return entries
}
