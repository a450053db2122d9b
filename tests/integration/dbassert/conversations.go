//go:build integration

package dbassert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// StoredMessage is one persisted conversation turn.
type StoredMessage struct {
	Role    string `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// StoredConversation mirrors a conversation row or document.
type StoredConversation struct {
	ID       string          `bson:"_id"`
	UserID   int64           `bson:"user_id"`
	Title    string          `bson:"title"`
	Messages []StoredMessage `bson:"messages"`
}

// QueryConversation loads a conversation row from PostgreSQL.
func QueryConversation(t *testing.T, pool *pgxpool.Pool, id string) StoredConversation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var c StoredConversation
	var raw []byte
	err := pool.QueryRow(ctx,
		`SELECT id, user_id, title, messages FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &raw)
	require.NoError(t, err, "failed to query conversation")
	require.NoError(t, json.Unmarshal(raw, &c.Messages))
	return c
}

// QueryConversationMongo loads a conversation document from MongoDB.
func QueryConversationMongo(t *testing.T, db *mongo.Database, id string) StoredConversation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var c StoredConversation
	err := db.Collection("conversations").FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	require.NoError(t, err, "failed to query conversation")
	return c
}

// CountConversations counts a user's conversation rows in PostgreSQL.
func CountConversations(t *testing.T, pool *pgxpool.Pool, userID int64) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var n int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID).Scan(&n)
	require.NoError(t, err, "failed to count conversations")
	return n
}

// QueryStoredAPIKey returns the api_key column as stored in PostgreSQL.
func QueryStoredAPIKey(t *testing.T, pool *pgxpool.Pool, userID int64) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var key string
	err := pool.QueryRow(ctx, `SELECT api_key FROM user_api_configs WHERE user_id = $1`, userID).Scan(&key)
	require.NoError(t, err, "failed to query credential")
	return key
}
