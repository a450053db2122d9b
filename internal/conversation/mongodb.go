package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBStore keeps one document per conversation.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore ensures the (user_id, updated_at) index exists.
func NewMongoDBStore(ctx context.Context, database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	coll := database.Collection("conversations")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations index: %w", err)
	}
	return &MongoDBStore{collection: coll}, nil
}

func owner(userID int64, id string) bson.D {
	return bson.D{{Key: "_id", Value: id}, {Key: "user_id", Value: userID}}
}

func (s *MongoDBStore) Create(ctx context.Context, c *Conversation) error {
	doc := *c
	doc.Messages = nonNil(c.Messages)
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *MongoDBStore) Get(ctx context.Context, userID int64, id string) (*Conversation, error) {
	var c Conversation
	err := s.collection.FindOne(ctx, owner(userID, id)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	return &c, nil
}

func (s *MongoDBStore) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]*Conversation, error) {
	cursor, err := s.collection.Find(ctx, filter, opts.SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	out := []*Conversation{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return out, nil
}

func (s *MongoDBStore) List(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error) {
	return s.find(ctx, bson.D{{Key: "user_id", Value: userID}},
		options.Find().SetLimit(int64(limit)).SetSkip(int64(offset)))
}

func (s *MongoDBStore) Search(ctx context.Context, userID int64, query string, limit int) ([]*Conversation, error) {
	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "title", Value: bson.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}},
	}
	return s.find(ctx, filter, options.Find().SetLimit(int64(limit)))
}

func (s *MongoDBStore) Append(ctx context.Context, userID int64, id string, msgs []Message, at time.Time) (*Conversation, error) {
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "messages", Value: bson.D{{Key: "$each", Value: nonNil(msgs)}}}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: at}}},
	}
	var c Conversation
	err := s.collection.FindOneAndUpdate(ctx, owner(userID, id), update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return &c, nil
}

func (s *MongoDBStore) Delete(ctx context.Context, userID int64, id string) error {
	res, err := s.collection.DeleteOne(ctx, owner(userID, id))
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) DeleteAll(ctx context.Context, userID int64) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoDBStore) Count(ctx context.Context, userID int64) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}
