package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	defaultMaxRetries = 5
	defaultTimeout    = 30 * time.Second
)

// Projection is a consumer-owned read model built from observed events. Apply
// must be idempotent and order-independent: creation as an upsert, deletion as
// unconditional removal, so that redelivered or reordered events converge on
// the same final state. An error wrapping ErrBadEnvelope dead-letters the
// message; any other error requeues it.
type Projection interface {
	// Name scopes dedup records; each consumer applies an event once.
	Name() string
	Apply(ctx context.Context, env *Envelope) error
}

// Consumer runs one Projection against one queue binding:
//
//	decode -> poison? dead-letter
//	dedup  -> already applied? ack as no-op
//	apply  -> error? requeue up to MaxRetries, then dead-letter
//	record -> ack only after the dedup record is durable
//
// Retry attempts are counted in this process per event id and reset on any
// terminal outcome. A restart resets the counters; the broker keeps
// redelivering, so the bound is per process lifetime (see DESIGN.md).
type Consumer struct {
	Projection Projection
	Dedup      DedupStore
	Binding    QueueBinding

	// MaxRetries is how many times a failing message is requeued before it
	// is dead-lettered. Zero means 5.
	MaxRetries int
	// Timeout bounds a single Apply call. Zero means 30s. A handler that
	// overruns is treated as failed, not left to run unbounded.
	Timeout time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

// Start registers the consumer on the broker.
func (c *Consumer) Start(b Broker) error {
	return b.Subscribe(c.Binding, c.Handle)
}

// Handle is the broker-facing entry point. Exposed so tests can drive a
// consumer without any broker at all.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Outcome {
	name := c.Projection.Name()

	env, err := Decode(d.Body)
	if err != nil {
		log.Printf("Consumer %s: dead-lettering poison message on %s: %v", name, d.RoutingKey, err)
		return Dead
	}

	applied, err := c.Dedup.Applied(ctx, name, env.EventID)
	if err != nil {
		return c.fail(env, fmt.Errorf("dedup check: %w", err))
	}
	if applied {
		log.Printf("Consumer %s: duplicate %s %s, acking no-op", name, env.EventType, env.EventID)
		c.clear(env.EventID)
		return Ack
	}

	applyCtx, cancel := context.WithTimeout(ctx, c.timeout())
	err = c.Projection.Apply(applyCtx, env)
	cancel()
	if err != nil {
		if errors.Is(err, ErrBadEnvelope) {
			log.Printf("Consumer %s: dead-lettering %s %s: %v", name, env.EventType, env.EventID, err)
			c.clear(env.EventID)
			return Dead
		}
		return c.fail(env, err)
	}

	// Apply is idempotent, so losing the race here just means another copy
	// of this event already did the work.
	if _, err := c.Dedup.MarkApplied(ctx, name, env.EventID); err != nil {
		return c.fail(env, fmt.Errorf("record applied: %w", err))
	}
	c.clear(env.EventID)
	return Ack
}

func (c *Consumer) fail(env *Envelope, err error) Outcome {
	name := c.Projection.Name()
	n := c.bump(env.EventID)
	if n > c.maxRetries() {
		log.Printf("Consumer %s: %s %s failed %d times, dead-lettering: %v", name, env.EventType, env.EventID, n, err)
		c.clear(env.EventID)
		return Dead
	}
	log.Printf("Consumer %s: %s %s failed (attempt %d/%d), requeueing: %v", name, env.EventType, env.EventID, n, c.maxRetries(), err)
	return Retry
}

func (c *Consumer) bump(eventID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts == nil {
		c.attempts = make(map[string]int)
	}
	c.attempts[eventID]++
	return c.attempts[eventID]
}

func (c *Consumer) clear(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, eventID)
}

func (c *Consumer) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return defaultMaxRetries
}

func (c *Consumer) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}
