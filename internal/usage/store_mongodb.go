package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrPartialWrite marks a batch that was only partly inserted.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many entries of a batch failed.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial usage insert: %d of %d entries failed: %v",
		e.FailedCount, e.TotalEntries, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

// MongoDBStore writes entries to the usage collection. Retention uses a TTL index.
type MongoDBStore struct {
	collection *mongo.Collection

	// OnPartialWrite is called when a batch is only partly inserted.
	OnPartialWrite func()
}

func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	collection := database.Collection("usage")

	timestamp := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		timestamp.Options = options.Index().SetExpireAfterSeconds(int32(retentionDays * 24 * 60 * 60))
	}
	indexes := []mongo.IndexModel{
		timestamp,
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for usage", "error", err)
	}
	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch inserts unordered so one bad entry does not block the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	if bulkErr, ok := asBulkWriteException(err); ok {
		failed := len(bulkErr.WriteErrors)
		slog.Warn("partial usage insert failure",
			"total", len(entries),
			"failed", failed,
		)
		if s.OnPartialWrite != nil {
			s.OnPartialWrite()
		}
		return &PartialWriteError{TotalEntries: len(entries), FailedCount: failed, Cause: bulkErr}
	}
	return fmt.Errorf("failed to insert usage entries: %w", err)
}

func asBulkWriteException(err error) (mongo.BulkWriteException, bool) {
	var ptr *mongo.BulkWriteException
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val mongo.BulkWriteException
	if errors.As(err, &val) {
		return val, true
	}
	return mongo.BulkWriteException{}, false
}

func (s *MongoDBStore) Summary(ctx context.Context, userID int64, since time.Time) (*Summary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "user_id", Value: userID},
			{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "system_requests", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{"$system_credential", 1, 0}},
			}}}},
			{Key: "prompt_tokens", Value: bson.D{{Key: "$sum", Value: "$prompt_tokens"}}},
			{Key: "completion_tokens", Value: bson.D{{Key: "$sum", Value: "$completion_tokens"}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
		}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var rows []struct {
		Requests         int64 `bson:"requests"`
		SystemRequests   int64 `bson:"system_requests"`
		PromptTokens     int64 `bson:"prompt_tokens"`
		CompletionTokens int64 `bson:"completion_tokens"`
		TotalTokens      int64 `bson:"total_tokens"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode usage summary: %w", err)
	}
	out := &Summary{}
	if len(rows) > 0 {
		r := rows[0]
		*out = Summary{
			Requests:         r.Requests,
			SystemRequests:   r.SystemRequests,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.TotalTokens,
		}
	}
	return out, nil
}

func (s *MongoDBStore) Flush(context.Context) error { return nil }

func (s *MongoDBStore) Close() error { return nil }
