package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"murmur/events"
	"murmur/models"
)

func savedMedia(t *testing.T, store Store) (models.Media, models.Media) {
	t.Helper()
	m1 := models.Media{ID: primitive.NewObjectID(), UserID: primitive.NewObjectID(), PublicID: "murmur/media/a", StorageURL: "https://cdn/a.jpg"}
	m2 := models.Media{ID: primitive.NewObjectID(), UserID: m1.UserID, PublicID: "murmur/media/b", StorageURL: "https://cdn/b.jpg"}
	require.NoError(t, store.Save(context.Background(), m1))
	require.NoError(t, store.Save(context.Background(), m2))
	return m1, m2
}

func startPipeline(t *testing.T, store Store, destroyer Destroyer) (*events.MemoryBroker, *events.Publisher) {
	t.Helper()
	broker := events.NewMemoryBroker()
	consumer := NewConsumer(store, destroyer, events.NewMemoryDedup())
	require.NoError(t, consumer.Start(broker))
	return broker, events.NewPublisher(broker)
}

func TestClaimAndCleanupLifecycle(t *testing.T) {
	store := NewMemoryStore()
	destroyer := &MemoryDestroyer{}
	_, pub := startPipeline(t, store, destroyer)
	ctx := context.Background()

	m1, m2 := savedMedia(t, store)
	postID := primitive.NewObjectID().Hex()

	// The create claims the uploads for the post
	require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{
		PostID:   postID,
		UserID:   m1.UserID.Hex(),
		Content:  "with attachments",
		MediaIDs: []string{m1.ID.Hex(), m2.ID.Hex()},
	}))

	claimed, err := store.ByPost(ctx, postID)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	// The delete names only one id; the claim covers the other
	require.NoError(t, pub.PostDeleted(ctx, postID, []string{m1.ID.Hex()}))

	assert.ElementsMatch(t, []string{"murmur/media/a", "murmur/media/b"}, destroyer.Destroyed)

	left, err := store.ByIDs(ctx, []string{m1.ID.Hex(), m2.ID.Hex()})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCleanupBeforeCreateConverges(t *testing.T) {
	store := NewMemoryStore()
	destroyer := &MemoryDestroyer{}
	_, pub := startPipeline(t, store, destroyer)
	ctx := context.Background()

	m1, _ := savedMedia(t, store)
	postID := primitive.NewObjectID().Hex()

	// Delete observed first
	require.NoError(t, pub.PostDeleted(ctx, postID, []string{m1.ID.Hex()}))
	require.Len(t, destroyer.Destroyed, 1)

	// The late create claims nothing because the media is gone
	require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{
		PostID:   postID,
		UserID:   m1.UserID.Hex(),
		Content:  "too late",
		MediaIDs: []string{m1.ID.Hex()},
	}))

	claimed, err := store.ByPost(ctx, postID)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.Len(t, destroyer.Destroyed, 1)
}

func TestCleanupReplayIsSafe(t *testing.T) {
	store := NewMemoryStore()
	destroyer := &MemoryDestroyer{}
	broker, _ := startPipeline(t, store, destroyer)
	ctx := context.Background()

	m1, _ := savedMedia(t, store)
	postID := primitive.NewObjectID().Hex()

	env, err := events.NewEnvelope(events.EventPostDeleted, events.PostDeletedPayload{
		PostID:   postID,
		MediaIDs: []string{m1.ID.Hex()},
	})
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "post.deleted", env))
	require.NoError(t, broker.Publish(ctx, "post.deleted", env))

	// The replayed event id is deduplicated, one destroy total
	assert.Len(t, destroyer.Destroyed, 1)
	assert.Empty(t, broker.DeadLetters)
}

func TestCleanupDeadLettersWhenStorageKeepsFailing(t *testing.T) {
	store := NewMemoryStore()
	destroyer := &MemoryDestroyer{Err: errors.New("cloudinary 5xx")}
	broker, pub := startPipeline(t, store, destroyer)
	ctx := context.Background()

	m1, _ := savedMedia(t, store)

	require.NoError(t, pub.PostDeleted(ctx, primitive.NewObjectID().Hex(), []string{m1.ID.Hex()}))
	assert.Len(t, broker.DeadLetters, 1)

	// The metadata survives for the parked event's eventual replay
	left, err := store.ByIDs(ctx, []string{m1.ID.Hex()})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
