package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DedupStore remembers which events a consumer has already applied. Scope is
// per consumer: search and media each apply the same event once. MarkApplied
// is an atomic insert-if-absent, which closes the race where two redelivered
// copies of one event pass the Applied check at the same time.
type DedupStore interface {
	Applied(ctx context.Context, consumer, eventID string) (bool, error)
	// MarkApplied records the event and reports whether this call was the
	// first to do so.
	MarkApplied(ctx context.Context, consumer, eventID string) (bool, error)
}

// MongoDedup stores applied-event records in a collection with a unique
// {consumer, eventId} index. A TTL index prunes records after the retention
// window; the window is a safety margin that must comfortably exceed the
// broker's maximum redelivery lag.
type MongoDedup struct {
	coll *mongo.Collection
}

func NewMongoDedup(ctx context.Context, coll *mongo.Collection, retention time.Duration) (*MongoDedup, error) {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "consumer", Value: 1}, {Key: "eventId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "appliedAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("events: create dedup indexes: %w", err)
	}
	return &MongoDedup{coll: coll}, nil
}

func (m *MongoDedup) Applied(ctx context.Context, consumer, eventID string) (bool, error) {
	err := m.coll.FindOne(ctx, bson.M{"consumer": consumer, "eventId": eventID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *MongoDedup) MarkApplied(ctx context.Context, consumer, eventID string) (bool, error) {
	_, err := m.coll.InsertOne(ctx, bson.M{
		"consumer":  consumer,
		"eventId":   eventID,
		"appliedAt": time.Now().UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryDedup is the in-process implementation used by tests.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]struct{})}
}

func (m *MemoryDedup) Applied(_ context.Context, consumer, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[consumer+"/"+eventID]
	return ok, nil
}

func (m *MemoryDedup) MarkApplied(_ context.Context, consumer, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := consumer + "/" + eventID
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}
