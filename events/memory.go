package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// MemoryBroker is an in-process Broker used in tests and local development.
// Delivery is synchronous: Publish invokes every matching queue's handler
// before returning, redelivering while the handler answers Retry, exactly as
// a real broker would (minus the network). Messages a handler rejects with
// Dead end up in DeadLetters.
//
// Bindings match on exact routing keys; the wildcard patterns of a real topic
// exchange are not needed here.
type MemoryBroker struct {
	mu          sync.Mutex
	subs        []subscription
	closed      bool
	DeadLetters []Delivery

	// MaxDeliveries caps redelivery of a single message so a handler that
	// never stops asking for Retry cannot hang a test. Zero means the
	// default of 100.
	MaxDeliveries int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (m *MemoryBroker) Publish(ctx context.Context, routingKey string, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotConnected
	}
	subs := append([]subscription(nil), m.subs...)
	limit := m.MaxDeliveries
	m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}

	for _, s := range subs {
		if !slices.Contains(s.binding.Keys, routingKey) {
			continue
		}
		for attempt := 0; attempt < limit; attempt++ {
			d := Delivery{Body: body, RoutingKey: routingKey, Redelivered: attempt > 0}
			switch s.handler(ctx, d) {
			case Retry:
				continue
			case Dead:
				m.mu.Lock()
				m.DeadLetters = append(m.DeadLetters, d)
				m.mu.Unlock()
			}
			break
		}
	}
	return nil
}

func (m *MemoryBroker) Subscribe(b QueueBinding, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	m.subs = append(m.subs, subscription{binding: b, handler: h})
	return nil
}

func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
