package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBStore keeps credentials in the user_api_configs collection.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore ensures a unique index on user_id.
func NewMongoDBStore(ctx context.Context, database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	coll := database.Collection("user_api_configs")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user_id index: %w", err)
	}
	return &MongoDBStore{collection: coll}, nil
}

func (s *MongoDBStore) Get(ctx context.Context, userID int64) (*Record, error) {
	var rec Record
	err := s.collection.FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	return &rec, nil
}

func (s *MongoDBStore) Upsert(ctx context.Context, rec *Record) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.D{{Key: "user_id", Value: rec.UserID}},
		rec,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *MongoDBStore) Delete(ctx context.Context, userID int64) error {
	res, err := s.collection.DeleteOne(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) SetValidated(ctx context.Context, userID int64, version time.Time, validated bool) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "updated_at", Value: version}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_validated", Value: validated},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}})
	if err != nil {
		return fmt.Errorf("failed to update validation state: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.collection.CountDocuments(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrChanged
}
