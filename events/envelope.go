package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrBadEnvelope marks a message that can never be processed: unknown event
// type, missing id, or a payload that does not decode. Consumers dead-letter
// these instead of retrying.
var ErrBadEnvelope = errors.New("events: bad envelope")

type EventType string

const (
	EventPostCreated EventType = "post.created"
	EventPostDeleted EventType = "post.deleted"
)

// Envelope is the only contract between services. The payload shape is keyed
// by EventType; consumers decode it with CreatedPayload/DeletedPayload. The
// EventID is minted once by the publisher and survives redelivery, which is
// what makes consumer-side deduplication possible.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType EventType       `json:"eventType"`
	EmittedAt time.Time       `json:"emittedAt"`
	Payload   json.RawMessage `json:"payload"`
}

type PostCreatedPayload struct {
	PostID   string   `json:"postId"`
	UserID   string   `json:"userId"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	MediaIDs []string `json:"mediaIds"`
}

type PostDeletedPayload struct {
	PostID   string   `json:"postId"`
	MediaIDs []string `json:"mediaIds"`
}

// NewEnvelope wraps a payload for publishing. The caller passes one of the
// payload structs above; anything JSON-marshalable is accepted so tests can
// build malformed messages on purpose.
func NewEnvelope(eventType EventType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		EmittedAt: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Decode parses and validates a wire message. Any failure here means the
// message will never become valid, so callers treat it as poison.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.EventID == "" {
		return nil, fmt.Errorf("%w: missing eventId", ErrBadEnvelope)
	}
	switch env.EventType {
	case EventPostCreated, EventPostDeleted:
	default:
		return nil, fmt.Errorf("%w: unknown eventType %q", ErrBadEnvelope, env.EventType)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrBadEnvelope)
	}
	return &env, nil
}

// CreatedPayload decodes the post.created variant.
func (e *Envelope) CreatedPayload() (*PostCreatedPayload, error) {
	if e.EventType != EventPostCreated {
		return nil, fmt.Errorf("%w: %s is not %s", ErrBadEnvelope, e.EventType, EventPostCreated)
	}
	var p PostCreatedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: post.created payload: %v", ErrBadEnvelope, err)
	}
	if p.PostID == "" || p.UserID == "" {
		return nil, fmt.Errorf("%w: post.created payload missing postId/userId", ErrBadEnvelope)
	}
	return &p, nil
}

// DeletedPayload decodes the post.deleted variant.
func (e *Envelope) DeletedPayload() (*PostDeletedPayload, error) {
	if e.EventType != EventPostDeleted {
		return nil, fmt.Errorf("%w: %s is not %s", ErrBadEnvelope, e.EventType, EventPostDeleted)
	}
	var p PostDeletedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: post.deleted payload: %v", ErrBadEnvelope, err)
	}
	if p.PostID == "" {
		return nil, fmt.Errorf("%w: post.deleted payload missing postId", ErrBadEnvelope)
	}
	return &p, nil
}
