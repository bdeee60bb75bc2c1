// Package inbox remembers which broker events a consumer already handled.
package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionName = "app_inbox"
	// DefaultRetention bounds how long a consumed id is remembered.
	DefaultRetention = 24 * time.Hour
)

// Store records consumed event ids per consumer in app_inbox. Entries expire through a
// TTL index, so redeliveries older than the retention pass through again.
type Store struct {
	col      *mongo.Collection
	consumer string
	now      func() time.Time
}

func NewStore(ctx context.Context, db *mongo.Database, consumer string, retention time.Duration) (*Store, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, fmt.Errorf("inbox: consumer name required")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	col := db.Collection(collectionName)
	if _, err := col.Indexes().CreateMany(ctx, indexModels(retention)); err != nil {
		return nil, fmt.Errorf("inbox: indexes: %w", err)
	}
	return &Store{col: col, consumer: consumer, now: time.Now}, nil
}

func indexModels(retention time.Duration) []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "consumer", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
		},
	}
}

// Seen inserts eventID for this consumer and reports whether it was already there.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	doc := bson.M{"event_id": eventID, "consumer": s.consumer, "received_at": s.now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, fmt.Errorf("inbox: record %s: %w", eventID, err)
}
