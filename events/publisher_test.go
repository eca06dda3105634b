package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherPostCreated(t *testing.T) {
	broker := NewMemoryBroker()
	var got []*Envelope
	err := broker.Subscribe(QueueBinding{Queue: "search.index", Keys: []string{"post.created", "post.deleted"}}, func(ctx context.Context, d Delivery) Outcome {
		env, err := Decode(d.Body)
		require.NoError(t, err)
		got = append(got, env)
		return Ack
	})
	require.NoError(t, err)

	pub := NewPublisher(broker)
	err = pub.PostCreated(context.Background(), PostCreatedPayload{
		PostID:   "p1",
		UserID:   "u1",
		Title:    "hello",
		Content:  "world",
		MediaIDs: []string{"m1"},
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, EventPostCreated, got[0].EventType)
	assert.NotEmpty(t, got[0].EventID)
	payload, err := got[0].CreatedPayload()
	require.NoError(t, err)
	assert.Equal(t, "p1", payload.PostID)
	assert.Equal(t, []string{"m1"}, payload.MediaIDs)
}

func TestPublisherPostDeleted(t *testing.T) {
	broker := NewMemoryBroker()
	var keys []string
	err := broker.Subscribe(QueueBinding{Queue: "media.cleanup", Keys: []string{"post.deleted"}}, func(ctx context.Context, d Delivery) Outcome {
		keys = append(keys, d.RoutingKey)
		return Ack
	})
	require.NoError(t, err)

	pub := NewPublisher(broker)
	require.NoError(t, pub.PostDeleted(context.Background(), "p2", []string{"m1", "m2"}))
	// A create must not reach a queue bound only to deletes.
	require.NoError(t, pub.PostCreated(context.Background(), PostCreatedPayload{PostID: "p3", UserID: "u1"}))

	assert.Equal(t, []string{"post.deleted"}, keys)
}

func TestPublisherClosedBroker(t *testing.T) {
	broker := NewMemoryBroker()
	require.NoError(t, broker.Close())

	pub := NewPublisher(broker)
	err := pub.PostCreated(context.Background(), PostCreatedPayload{PostID: "p1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMemoryBrokerRedelivery(t *testing.T) {
	broker := NewMemoryBroker()
	var redelivered []bool
	var ids []string
	calls := 0
	err := broker.Subscribe(QueueBinding{Queue: "search.index", Keys: []string{"post.created"}}, func(ctx context.Context, d Delivery) Outcome {
		calls++
		env, err := Decode(d.Body)
		require.NoError(t, err)
		ids = append(ids, env.EventID)
		redelivered = append(redelivered, d.Redelivered)
		if calls < 3 {
			return Retry
		}
		return Ack
	})
	require.NoError(t, err)

	env, err := NewEnvelope(EventPostCreated, PostCreatedPayload{PostID: "p1", UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), "post.created", env))

	assert.Equal(t, []bool{false, true, true}, redelivered)
	// The id travels with the message, so every redelivery carries the same one.
	assert.Equal(t, []string{env.EventID, env.EventID, env.EventID}, ids)
	assert.Empty(t, broker.DeadLetters)
}

func TestMemoryBrokerDeadLetters(t *testing.T) {
	broker := NewMemoryBroker()
	err := broker.Subscribe(QueueBinding{Queue: "search.index", Keys: []string{"post.created"}}, func(ctx context.Context, d Delivery) Outcome {
		return Dead
	})
	require.NoError(t, err)

	env, err := NewEnvelope(EventPostCreated, PostCreatedPayload{PostID: "p1", UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), "post.created", env))

	require.Len(t, broker.DeadLetters, 1)
	assert.Equal(t, "post.created", broker.DeadLetters[0].RoutingKey)
}
