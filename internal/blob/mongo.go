// Package blob stores large message bodies and attachment bytes in MongoDB,
// keyed by deterministic blob keys so repeated puts are idempotent.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionBlobs = "blobs"

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// MongoStore implements the blob store against a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

// blobDocument is the stored shape of one blob.
type blobDocument struct {
	Key         string    `bson:"key"`
	Data        []byte    `bson:"data"`
	ContentType string    `bson:"content_type"`
	Size        int64     `bson:"size"`
	StoredAt    time.Time `bson:"stored_at"`
}

// NewMongoStore creates a blob store backed by the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(collectionBlobs)}
}

// EnsureIndexes creates the unique key index for the collection.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Put stores bytes under the key, replacing any previous value.
func (s *MongoStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	doc := blobDocument{
		Key:         key,
		Data:        data,
		ContentType: contentType,
		Size:        int64(len(data)),
		StoredAt:    time.Now(),
	}

	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"key": key},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}

	return nil
}

// Get retrieves the bytes stored under the key.
func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var doc blobDocument
	err := s.collection.FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get blob %s: %w", key, err)
	}

	return doc.Data, doc.ContentType, nil
}
