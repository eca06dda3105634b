package events

import "context"

// Publisher emits post lifecycle events for the posts service. Callers invoke
// it strictly after their local write has committed; a publish failure is
// therefore never a reason to roll back or fail the HTTP request, only to log
// and warn (the documented at-least-once gap: a committed write whose event
// was lost is not re-emitted).
type Publisher struct {
	broker Broker
}

func NewPublisher(b Broker) *Publisher {
	return &Publisher{broker: b}
}

func (p *Publisher) PostCreated(ctx context.Context, payload PostCreatedPayload) error {
	env, err := NewEnvelope(EventPostCreated, payload)
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, string(EventPostCreated), env)
}

func (p *Publisher) PostDeleted(ctx context.Context, postID string, mediaIDs []string) error {
	env, err := NewEnvelope(EventPostDeleted, PostDeletedPayload{PostID: postID, MediaIDs: mediaIDs})
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, string(EventPostDeleted), env)
}
