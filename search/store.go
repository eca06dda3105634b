package search

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"murmur/models"
)

// Store is the search projection's view of the index. Index and Remove must
// both be idempotent and order independent: a delete that arrives before its
// create leaves a tombstone that blocks the late create, so replaying a
// stream in any order converges on the same index.
type Store interface {
	Index(ctx context.Context, doc models.SearchDoc) error
	Remove(ctx context.Context, postID string) error
	Search(ctx context.Context, query string, limit int64) ([]models.SearchDoc, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore binds the store to a collection and installs the TTL index
// that expires tombstones once late creates can no longer arrive.
func NewMongoStore(ctx context.Context, coll *mongo.Collection, tombstoneTTL time.Duration) (*MongoStore, error) {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "deletedAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(tombstoneTTL.Seconds())),
	})
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll}, nil
}

// Index upserts the document keyed by post id. A second apply of the same
// event overwrites with identical fields, and a tombstoned id makes the
// upsert collide on _id, which is exactly the delete-won case.
func (s *MongoStore) Index(ctx context.Context, doc models.SearchDoc) error {
	filter := bson.M{"_id": doc.PostID, "deleted": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"userId":    doc.UserID,
		"title":     doc.Title,
		"content":   doc.Content,
		"indexedAt": doc.IndexedAt,
	}}

	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// The id exists as a tombstone; the post is already deleted
		return nil
	}
	return err
}

// Remove tombstones the post id whether or not the document exists yet, so
// deletes observed before their create still win.
func (s *MongoStore) Remove(ctx context.Context, postID string) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set":   bson.M{"deleted": true, "deletedAt": now},
		"$unset": bson.M{"userId": "", "title": "", "content": "", "indexedAt": ""},
	}

	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": postID}, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// Raced another remove of the same id
		return nil
	}
	return err
}

func (s *MongoStore) Search(ctx context.Context, query string, limit int64) ([]models.SearchDoc, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{
		"deleted": bson.M{"$exists": false},
		"$or": []bson.M{
			{"title": pattern},
			{"content": pattern},
		},
	}

	opts := options.Find().SetSort(bson.D{{Key: "indexedAt", Value: -1}}).SetLimit(limit)
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.SearchDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// MemoryStore mirrors MongoStore's convergence rules for tests and local
// runs without MongoDB.
type MemoryStore struct {
	mu         sync.Mutex
	docs       map[string]models.SearchDoc
	tombstones map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[string]models.SearchDoc),
		tombstones: make(map[string]bool),
	}
}

func (s *MemoryStore) Index(_ context.Context, doc models.SearchDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tombstones[doc.PostID] {
		return nil
	}
	s.docs[doc.PostID] = doc
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones[postID] = true
	delete(s.docs, postID)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, query string, limit int64) ([]models.SearchDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return nil, err
	}

	var docs []models.SearchDoc
	for _, doc := range s.docs {
		if pattern.MatchString(doc.Title) || pattern.MatchString(doc.Content) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].IndexedAt.After(docs[j].IndexedAt) })
	if int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}
