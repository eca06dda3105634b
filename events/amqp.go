package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	startupAttempts = 3
	startupDelay    = 2 * time.Second
	reconnectMin    = 1 * time.Second
	reconnectMax    = 30 * time.Second
)

// AMQPBroker talks to a RabbitMQ topic exchange. It is constructed once per
// process and injected into publishers and consumers; there is no package
// global. While the connection is down Publish fails fast with
// ErrNotConnected, and a monitor goroutine reconnects with capped exponential
// backoff, re-declaring the topology and restarting every subscription.
type AMQPBroker struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	closeCh chan *amqp.Error
	subs    []subscription

	ready  atomic.Bool
	closed atomic.Bool
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type subscription struct {
	binding QueueBinding
	handler Handler
}

// ConnectAMQP dials the broker, retrying a few times so services survive a
// slow broker container at startup, then hands the connection to the monitor
// goroutine. Exhausting the startup retries is fatal to the caller.
func ConnectAMQP(url, exchange string) (*AMQPBroker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &AMQPBroker{
		url:      url,
		exchange: exchange,
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var err error
	for i := 1; i <= startupAttempts; i++ {
		if err = b.connect(); err == nil {
			break
		}
		log.Printf("Broker connection attempt %d failed: %v", i, err)
		time.Sleep(startupDelay)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	go b.monitor()
	return b, nil
}

// connect establishes a connection, declares the topology and starts the
// registered consumers. State is only committed once everything succeeded, so
// a half-built connection never becomes visible to Publish.
func (b *AMQPBroker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("events: dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("events: confirm mode: %w", err)
	}
	if err := declareTopology(ch, b.exchange); err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		if err := b.consumeOn(conn, s); err != nil {
			conn.Close()
			return err
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.closeCh = conn.NotifyClose(make(chan *amqp.Error, 1))
	b.mu.Unlock()
	b.ready.Store(true)
	return nil
}

// declareTopology sets up the shared topic exchange plus the dead-letter
// exchange and its catch-all queue. Declarations are idempotent on the broker
// side, so every service declares the full set.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	dlx := exchange + ".dlx"
	if err := ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("events: declare exchange %s: %w", dlx, err)
	}
	dead, err := ch.QueueDeclare(exchange+".dead", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("events: declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dead.Name, "#", dlx, false, nil); err != nil {
		return fmt.Errorf("events: bind dead-letter queue: %w", err)
	}
	return nil
}

func (b *AMQPBroker) monitor() {
	for {
		b.mu.Lock()
		closeCh := b.closeCh
		b.mu.Unlock()

		select {
		case <-b.done:
			return
		case amqpErr := <-closeCh:
			if b.closed.Load() {
				return
			}
			b.ready.Store(false)
			if amqpErr != nil {
				log.Printf("Broker connection lost: %v", amqpErr)
			}

			backoff := reconnectMin
			for {
				select {
				case <-b.done:
					return
				case <-time.After(backoff):
				}
				if err := b.connect(); err != nil {
					log.Printf("Broker reconnect failed: %v (next attempt in %s)", err, backoff)
					if backoff *= 2; backoff > reconnectMax {
						backoff = reconnectMax
					}
					continue
				}
				log.Println("Broker reconnected, subscriptions restored")
				break
			}
		}
	}
}

// Publish sends the envelope and waits for the broker's confirm under the
// caller's context. Messages are persistent and carry the event id and type
// in the AMQP properties for operator visibility.
func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, env *Envelope) error {
	if !b.ready.Load() {
		return ErrNotConnected
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	b.mu.Lock()
	ch := b.pubCh
	b.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID,
		Type:         string(env.EventType),
		Timestamp:    env.EmittedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", routingKey, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishTimeout, err)
	}
	if !acked {
		return fmt.Errorf("events: publish %s: %w", routingKey, ErrPublishTimeout)
	}
	return nil
}

// Subscribe registers the handler and, when connected, starts consuming
// immediately. Registrations made while the connection is down are picked up
// by the next successful reconnect.
func (b *AMQPBroker) Subscribe(binding QueueBinding, h Handler) error {
	s := subscription{binding: binding, handler: h}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	conn := b.conn
	connected := b.ready.Load()
	b.mu.Unlock()

	if !connected {
		return nil
	}
	return b.consumeOn(conn, s)
}

// consumeOn declares the subscription's queue on the given connection and
// starts its delivery loop. Each queue gets its own channel with prefetch 1,
// so handlers for one queue run strictly one at a time.
func (b *AMQPBroker) consumeOn(conn *amqp.Connection, s subscription) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("events: open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("events: set qos: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": b.exchange + ".dlx"}
	q, err := ch.QueueDeclare(s.binding.Queue, true, false, false, false, args)
	if err != nil {
		ch.Close()
		return fmt.Errorf("events: declare queue %s: %w", s.binding.Queue, err)
	}
	for _, key := range s.binding.Keys {
		if err := ch.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("events: bind %s to %s: %w", s.binding.Queue, key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("events: consume %s: %w", s.binding.Queue, err)
	}

	go b.deliver(s, deliveries)
	return nil
}

// deliver runs until the channel dies (connection loss or Close); the monitor
// starts a replacement loop after reconnecting.
func (b *AMQPBroker) deliver(s subscription, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		outcome := s.handler(b.ctx, Delivery{
			Body:        d.Body,
			RoutingKey:  d.RoutingKey,
			Redelivered: d.Redelivered,
		})

		var err error
		switch outcome {
		case Retry:
			err = d.Nack(false, true)
		case Dead:
			err = d.Nack(false, false)
		default:
			err = d.Ack(false)
		}
		if err != nil {
			log.Printf("Consumer %s: %s failed: %v", s.binding.Queue, outcome, err)
		}
	}
}

func (b *AMQPBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.done)
	b.cancel()
	b.ready.Store(false)

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}
