package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// HistoryRetention is how long usage events are kept before the TTL index
// expires them.
const HistoryRetention = 90 * 24 * time.Hour

const historyCollection = "usage_events"

// MongoHistory implements HistoryStore over a MongoDB collection with a TTL
// index on the event timestamp.
type MongoHistory struct {
	coll *mongo.Collection
}

// NewMongoHistory creates the history store and ensures its indexes.
func NewMongoHistory(ctx context.Context, db *mongo.Database) (*MongoHistory, error) {
	coll := db.Collection(historyCollection)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "occurred_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(HistoryRetention.Seconds())),
		},
		{
			Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create usage history indexes: %w", err)
	}
	return &MongoHistory{coll: coll}, nil
}

// Append implements HistoryStore.
func (s *MongoHistory) Append(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

// ListBySubscription implements HistoryStore.
func (s *MongoHistory) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int64) ([]*Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := s.coll.Find(ctx, bson.D{{Key: "subscription_id", Value: subscriptionID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode usage events: %w", err)
	}
	return out, nil
}
