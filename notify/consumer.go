package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"murmur/events"
)

// Broadcaster is the slice of the websocket hub the projection uses.
type Broadcaster interface {
	BroadcastPostCreated(payload map[string]interface{})
	BroadcastPostDeleted(payload map[string]interface{})
}

// Projection fans post events out to websockets and push subscribers.
// Fanout is not replayable state, so the dedup guard is what keeps a
// redelivered event from notifying everyone twice.
type Projection struct {
	hub    Broadcaster
	pusher Pusher
}

func NewProjection(hub Broadcaster, pusher Pusher) *Projection {
	return &Projection{hub: hub, pusher: pusher}
}

func (p *Projection) Name() string { return "notify" }

func (p *Projection) Apply(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.EventPostCreated:
		payload, err := env.CreatedPayload()
		if err != nil {
			return err
		}

		if p.hub != nil {
			p.hub.BroadcastPostCreated(map[string]interface{}{
				"postId": payload.PostID,
				"userId": payload.UserID,
				"title":  payload.Title,
			})
		}

		if p.pusher != nil {
			body := payload.Content
			if len(body) > 100 {
				body = body[:100] + "..."
			}
			title := "New post 📝"
			if payload.Title != "" {
				title = payload.Title
			}
			if err := p.pusher.NotifyAll(ctx, payload.UserID, title, body); err != nil {
				return err
			}
		}

		log.Printf("[notify] fanned out post.created for %s", payload.PostID)
		return nil

	case events.EventPostDeleted:
		payload, err := env.DeletedPayload()
		if err != nil {
			return err
		}

		if p.hub != nil {
			p.hub.BroadcastPostDeleted(map[string]interface{}{
				"postId": payload.PostID,
			})
		}
		return nil

	default:
		return fmt.Errorf("unhandled event type %q: %w", env.EventType, events.ErrBadEnvelope)
	}
}

// NewConsumer builds the queue consumer for notification fanout.
func NewConsumer(hub Broadcaster, pusher Pusher, dedup events.DedupStore) *events.Consumer {
	return &events.Consumer{
		Projection: NewProjection(hub, pusher),
		Dedup:      dedup,
		Binding: events.QueueBinding{
			Queue: "notify.fanout",
			Keys:  []string{string(events.EventPostCreated), string(events.EventPostDeleted)},
		},
		MaxRetries: 5,
		Timeout:    30 * time.Second,
	}
}
