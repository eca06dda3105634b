package search

import (
	"context"
	"fmt"
	"log"
	"time"

	"murmur/events"
	"murmur/models"
)

// Projection applies post lifecycle events to the search index.
type Projection struct {
	store Store
}

func NewProjection(store Store) *Projection {
	return &Projection{store: store}
}

func (p *Projection) Name() string { return "search" }

func (p *Projection) Apply(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.EventPostCreated:
		payload, err := env.CreatedPayload()
		if err != nil {
			return err
		}
		log.Printf("[search] indexing post %s", payload.PostID)
		return p.store.Index(ctx, models.SearchDoc{
			PostID:    payload.PostID,
			UserID:    payload.UserID,
			Title:     payload.Title,
			Content:   payload.Content,
			IndexedAt: env.EmittedAt.UTC(),
		})
	case events.EventPostDeleted:
		payload, err := env.DeletedPayload()
		if err != nil {
			return err
		}
		log.Printf("[search] removing post %s", payload.PostID)
		return p.store.Remove(ctx, payload.PostID)
	default:
		return fmt.Errorf("unhandled event type %q: %w", env.EventType, events.ErrBadEnvelope)
	}
}

// NewConsumer builds the queue consumer for the search projection.
func NewConsumer(store Store, dedup events.DedupStore) *events.Consumer {
	return &events.Consumer{
		Projection: NewProjection(store),
		Dedup:      dedup,
		Binding: events.QueueBinding{
			Queue: "search.index",
			Keys:  []string{string(events.EventPostCreated), string(events.EventPostDeleted)},
		},
		MaxRetries: 5,
		Timeout:    30 * time.Second,
	}
}
