package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/events"
	"murmur/models"
)

// flakyStore fails a number of Index calls before delegating, emulating a
// projection store that comes back after an outage.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) Index(ctx context.Context, doc models.SearchDoc) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures != 0
	if f.failures > 0 {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("index unavailable")
	}
	return f.Store.Index(ctx, doc)
}

func startPipeline(t *testing.T, store Store) (*events.MemoryBroker, *events.Publisher) {
	t.Helper()
	broker := events.NewMemoryBroker()
	consumer := NewConsumer(store, events.NewMemoryDedup())
	require.NoError(t, consumer.Start(broker))
	return broker, events.NewPublisher(broker)
}

func TestProjectionIndexesCreatedPosts(t *testing.T) {
	store := NewMemoryStore()
	_, pub := startPipeline(t, store)
	ctx := context.Background()

	require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{
		PostID: "p1", UserID: "u1", Title: "Hello", Content: "first",
	}))

	docs, err := store.Search(ctx, "hello", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "p1", docs[0].PostID)
	assert.Equal(t, "u1", docs[0].UserID)
}

func TestProjectionConvergesRegardlessOfOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("create then delete", func(t *testing.T) {
		store := NewMemoryStore()
		_, pub := startPipeline(t, store)

		require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{PostID: "p1", UserID: "u1", Title: "Hello"}))
		require.NoError(t, pub.PostDeleted(ctx, "p1", nil))

		docs, err := store.Search(ctx, "hello", 10)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("delete arrives first", func(t *testing.T) {
		store := NewMemoryStore()
		_, pub := startPipeline(t, store)

		require.NoError(t, pub.PostDeleted(ctx, "p1", nil))
		require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{PostID: "p1", UserID: "u1", Title: "Hello"}))

		docs, err := store.Search(ctx, "hello", 10)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestProjectionDuplicateDeliveryIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	broker, _ := startPipeline(t, store)
	ctx := context.Background()

	env, err := events.NewEnvelope(events.EventPostCreated, events.PostCreatedPayload{
		PostID: "p1", UserID: "u1", Title: "Hello",
	})
	require.NoError(t, err)

	// The same envelope redelivered keeps its event id, so the second
	// delivery is deduplicated.
	require.NoError(t, broker.Publish(ctx, "post.created", env))
	require.NoError(t, broker.Publish(ctx, "post.created", env))

	docs, err := store.Search(ctx, "hello", 10)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Empty(t, broker.DeadLetters)
}

func TestProjectionRetriesUntilStoreRecovers(t *testing.T) {
	flaky := &flakyStore{Store: NewMemoryStore(), failures: 3}
	broker, pub := startPipeline(t, flaky)
	ctx := context.Background()

	require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{PostID: "p1", UserID: "u1", Title: "Hello"}))

	assert.Equal(t, 4, flaky.calls)
	assert.Empty(t, broker.DeadLetters)

	docs, err := flaky.Search(ctx, "hello", 10)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestProjectionDeadLettersAfterRetryBudget(t *testing.T) {
	flaky := &flakyStore{Store: NewMemoryStore(), failures: -1}
	broker, pub := startPipeline(t, flaky)
	ctx := context.Background()

	require.NoError(t, pub.PostCreated(ctx, events.PostCreatedPayload{PostID: "p1", UserID: "u1", Title: "Hello"}))

	// Five retries then dead lettered, and the queue is not wedged
	assert.Equal(t, 6, flaky.calls)
	require.Len(t, broker.DeadLetters, 1)

	require.NoError(t, pub.PostDeleted(ctx, "p2", nil))
	assert.Len(t, broker.DeadLetters, 1)
}

func TestProjectionRejectsForeignPayload(t *testing.T) {
	store := NewMemoryStore()
	proj := NewProjection(store)

	env, err := events.NewEnvelope(events.EventPostCreated, map[string]string{"unexpected": "shape"})
	require.NoError(t, err)

	err = proj.Apply(context.Background(), env)
	assert.ErrorIs(t, err, events.ErrBadEnvelope)
}
