package media

import (
	"context"
	"fmt"
	"log"
	"time"

	"murmur/events"
	"murmur/models"
)

// Projection keeps stored media consistent with the posts that own it.
// Creates claim uploaded media for their post; deletes destroy the assets
// and drop the metadata.
type Projection struct {
	store     Store
	destroyer Destroyer
}

func NewProjection(store Store, destroyer Destroyer) *Projection {
	return &Projection{store: store, destroyer: destroyer}
}

func (p *Projection) Name() string { return "media" }

func (p *Projection) Apply(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.EventPostCreated:
		payload, err := env.CreatedPayload()
		if err != nil {
			return err
		}
		return p.store.Claim(ctx, payload.MediaIDs, payload.PostID)
	case events.EventPostDeleted:
		payload, err := env.DeletedPayload()
		if err != nil {
			return err
		}
		return p.cleanup(ctx, payload)
	default:
		return fmt.Errorf("unhandled event type %q: %w", env.EventType, events.ErrBadEnvelope)
	}
}

// cleanup removes every media document the event names plus everything
// claiming the post, covering both fresh deletes and replays where one side
// was already handled.
func (p *Projection) cleanup(ctx context.Context, payload *events.PostDeletedPayload) error {
	byIDs, err := p.store.ByIDs(ctx, payload.MediaIDs)
	if err != nil {
		return err
	}
	byPost, err := p.store.ByPost(ctx, payload.PostID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	docs := make([]models.Media, 0, len(byIDs)+len(byPost))
	for _, doc := range append(byIDs, byPost...) {
		if seen[doc.ID.Hex()] {
			continue
		}
		seen[doc.ID.Hex()] = true
		docs = append(docs, doc)
	}

	for _, doc := range docs {
		// Asset first: if we crash after the destroy, the next attempt
		// destroys an already-missing asset, which counts as success
		if p.destroyer != nil {
			if err := p.destroyer.Destroy(ctx, doc.PublicID); err != nil {
				return err
			}
		}
		if err := p.store.Delete(ctx, doc.ID); err != nil {
			return err
		}
		log.Printf("[media] deleted media %s for post %s", doc.ID.Hex(), payload.PostID)
	}
	return nil
}

// NewConsumer builds the queue consumer for the media projection.
func NewConsumer(store Store, destroyer Destroyer, dedup events.DedupStore) *events.Consumer {
	return &events.Consumer{
		Projection: NewProjection(store, destroyer),
		Dedup:      dedup,
		Binding: events.QueueBinding{
			Queue: "media.cleanup",
			Keys:  []string{string(events.EventPostCreated), string(events.EventPostDeleted)},
		},
		MaxRetries: 5,
		Timeout:    30 * time.Second,
	}
}
