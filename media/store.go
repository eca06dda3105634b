package media

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"murmur/models"
)

// Store holds media metadata. Claim and Delete are idempotent so event
// replays and out of order deliveries leave the same state behind.
type Store interface {
	Save(ctx context.Context, m models.Media) error
	// Claim stamps the owning post onto uploaded media. Media already
	// cleaned up is simply not there to claim.
	Claim(ctx context.Context, mediaIDs []string, postID string) error
	ByPost(ctx context.Context, postID string) ([]models.Media, error)
	ByIDs(ctx context.Context, mediaIDs []string) ([]models.Media, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Save(ctx context.Context, m models.Media) error {
	_, err := s.coll.InsertOne(ctx, m)
	return err
}

func (s *MongoStore) Claim(ctx context.Context, mediaIDs []string, postID string) error {
	ids := parseObjectIDs(mediaIDs)
	if len(ids) == 0 {
		return nil
	}
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"postId": postID}})
	return err
}

func (s *MongoStore) ByPost(ctx context.Context, postID string) ([]models.Media, error) {
	return s.find(ctx, bson.M{"postId": postID})
}

func (s *MongoStore) ByIDs(ctx context.Context, mediaIDs []string) ([]models.Media, error) {
	ids := parseObjectIDs(mediaIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]models.Media, error) {
	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Media
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func parseObjectIDs(hexes []string) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(hexes))
	for _, h := range hexes {
		if id, err := primitive.ObjectIDFromHex(h); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// MemoryStore backs tests and broker-less local runs.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]models.Media
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[primitive.ObjectID]models.Media)}
}

func (s *MemoryStore) Save(_ context.Context, m models.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[m.ID] = m
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, mediaIDs []string, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range parseObjectIDs(mediaIDs) {
		if doc, ok := s.docs[id]; ok {
			doc.PostID = postID
			s.docs[id] = doc
		}
	}
	return nil
}

func (s *MemoryStore) ByPost(_ context.Context, postID string) ([]models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []models.Media
	for _, doc := range s.docs {
		if doc.PostID == postID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *MemoryStore) ByIDs(_ context.Context, mediaIDs []string) ([]models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []models.Media
	for _, id := range parseObjectIDs(mediaIDs) {
		if doc, ok := s.docs[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *MemoryStore) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}
