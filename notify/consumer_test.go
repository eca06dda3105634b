package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/events"
)

type fakeHub struct {
	mu      sync.Mutex
	created []map[string]interface{}
	deleted []map[string]interface{}
}

func (h *fakeHub) BroadcastPostCreated(payload map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, payload)
}

func (h *fakeHub) BroadcastPostDeleted(payload map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, payload)
}

type fakePusher struct {
	mu     sync.Mutex
	sent   []string // "except|title|body"
	err    error
	except string
}

func (p *fakePusher) NotifyAll(_ context.Context, exceptUserID, title, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.except = exceptUserID
	p.sent = append(p.sent, exceptUserID+"|"+title+"|"+body)
	return nil
}

func startPipeline(t *testing.T, hub Broadcaster, pusher Pusher) (*events.MemoryBroker, *events.Publisher) {
	t.Helper()
	broker := events.NewMemoryBroker()
	consumer := NewConsumer(hub, pusher, events.NewMemoryDedup())
	require.NoError(t, consumer.Start(broker))
	return broker, events.NewPublisher(broker)
}

func TestFanoutOnPostCreated(t *testing.T) {
	hub := &fakeHub{}
	pusher := &fakePusher{}
	_, pub := startPipeline(t, hub, pusher)

	require.NoError(t, pub.PostCreated(context.Background(), events.PostCreatedPayload{
		PostID:  "p1",
		UserID:  "author",
		Title:   "Big News",
		Content: "something happened",
	}))

	require.Len(t, hub.created, 1)
	assert.Equal(t, "p1", hub.created[0]["postId"])

	require.Len(t, pusher.sent, 1)
	assert.Equal(t, "author|Big News|something happened", pusher.sent[0])
}

func TestFanoutSkipsAuthorAndTruncates(t *testing.T) {
	pusher := &fakePusher{}
	_, pub := startPipeline(t, &fakeHub{}, pusher)

	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, pub.PostCreated(context.Background(), events.PostCreatedPayload{
		PostID:  "p1",
		UserID:  "author",
		Content: string(long),
	}))

	require.Len(t, pusher.sent, 1)
	assert.Equal(t, "author", pusher.except)
	assert.Contains(t, pusher.sent[0], "New post")
	assert.Contains(t, pusher.sent[0], "...")
	assert.Less(t, len(pusher.sent[0]), 150)
}

func TestFanoutOnPostDeleted(t *testing.T) {
	hub := &fakeHub{}
	pusher := &fakePusher{}
	_, pub := startPipeline(t, hub, pusher)

	require.NoError(t, pub.PostDeleted(context.Background(), "p1", nil))

	require.Len(t, hub.deleted, 1)
	assert.Equal(t, "p1", hub.deleted[0]["postId"])
	// Deletions broadcast but never push
	assert.Empty(t, pusher.sent)
}

func TestFanoutDeduplicatesRedelivery(t *testing.T) {
	hub := &fakeHub{}
	broker, _ := startPipeline(t, hub, &fakePusher{})

	env, err := events.NewEnvelope(events.EventPostCreated, events.PostCreatedPayload{
		PostID: "p1", UserID: "author", Title: "Once",
	})
	require.NoError(t, err)

	require.NoError(t, broker.Publish(context.Background(), "post.created", env))
	require.NoError(t, broker.Publish(context.Background(), "post.created", env))

	// Nobody gets notified twice for one event
	assert.Len(t, hub.created, 1)
}

func TestFanoutDeadLettersWhenPushStackFails(t *testing.T) {
	pusher := &fakePusher{err: errors.New("subscription store down")}
	broker, pub := startPipeline(t, &fakeHub{}, pusher)

	require.NoError(t, pub.PostCreated(context.Background(), events.PostCreatedPayload{
		PostID: "p1", UserID: "author", Content: "doomed",
	}))

	assert.Len(t, broker.DeadLetters, 1)
}
