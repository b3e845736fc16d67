package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

// slotDocument is the MongoDB shape of a slot.
type slotDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps the slot as one document in a collection.
type MongoStore struct {
	collection *mongo.Collection
	key        string
}

// NewMongoStore creates a store for key in collection.
func NewMongoStore(collection *mongo.Collection, key string) *MongoStore {
	return &MongoStore{collection: collection, key: key}
}

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context) (string, error) {
	var doc slotDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": s.key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("mongodb slot %s: %w", s.key, errs.ErrNotFound)
		}
		return "", fmt.Errorf("failed to find mongodb slot: %w", err)
	}
	return doc.Value, nil
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, value string) error {
	doc := slotDocument{
		Key:       s.key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": s.key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert mongodb slot: %w", err)
	}
	return nil
}
