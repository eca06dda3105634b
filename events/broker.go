package events

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Publish while the broker connection is
	// down. Callers fail fast instead of queueing in memory; the reconnect
	// loop restores service in the background.
	ErrNotConnected = errors.New("events: broker not connected")

	// ErrPublishTimeout is returned when the broker never confirmed the
	// publish within the caller's deadline.
	ErrPublishTimeout = errors.New("events: publish not confirmed")
)

// Outcome is the handler's explicit verdict on a delivery. Making this a value
// instead of an error keeps the ack/requeue/dead-letter policy visible at the
// subscription site.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Retry returns the message to the queue for redelivery.
	Retry
	// Dead rejects the message without requeue; the queue's dead-letter
	// exchange picks it up.
	Dead
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Delivery is one received message. Body is the serialized Envelope;
// Redelivered reports whether the broker has handed this copy out before.
type Delivery struct {
	Body        []byte
	RoutingKey  string
	Redelivered bool
}

// Handler processes one delivery and decides its fate.
type Handler func(ctx context.Context, d Delivery) Outcome

// QueueBinding names a consumer queue and the routing keys it receives from
// the topic exchange.
type QueueBinding struct {
	Queue string
	Keys  []string
}

// Broker is the transport between services. The exchange is fixed when the
// broker is constructed. Implementations: AMQPBroker for RabbitMQ,
// MemoryBroker for tests.
type Broker interface {
	// Publish sends the envelope under the given routing key and returns
	// once the broker has taken responsibility for it.
	Publish(ctx context.Context, routingKey string, env *Envelope) error

	// Subscribe registers a handler for a queue binding. Registration
	// survives reconnects; the handler runs serially per queue.
	Subscribe(b QueueBinding, h Handler) error

	// Close shuts the connection down and stops the reconnect loop.
	Close() error
}
