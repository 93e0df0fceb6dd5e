// Package amqpnotify layers low-latency change notifications over a
// remote store. The wrapped store stays authoritative for values; the
// broker only carries "key changed" pings so other devices can fetch the
// new value right away instead of waiting for their next poll.
package amqpnotify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"saldo/internal/remote"
)

type Notifier struct {
	inner        remote.Store
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	source       string

	mu      sync.Mutex
	subs    map[string]map[int]func([]byte)
	nextSub int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

var _ remote.Store = (*Notifier)(nil)

// New connects to the broker and declares a fanout exchange with an
// exclusive per-instance queue, so every running client sees every
// change ping.
func New(inner remote.Store, url, exchangeName string) (*Notifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	n := &Notifier{
		inner:        inner,
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		source:       uuid.NewString(),
		subs:         make(map[string]map[int]func([]byte)),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	if err := n.setup(); err != nil {
		n.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return n, nil
}

func (n *Notifier) setup() error {
	err := n.channel.ExchangeDeclare(
		n.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Exclusive server-named queue: pings are per-instance and worthless
	// after the instance is gone.
	q, err := n.channel.QueueDeclare(
		"",    // name, server-generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	n.queueName = q.Name

	err = n.channel.QueueBind(
		n.queueName,
		"", // routing key ignored by fanout
		n.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Start launches the consume loop. It returns once the loop is running.
func (n *Notifier) Start(ctx context.Context) error {
	msgs, err := n.channel.Consume(
		n.queueName, // queue
		"",          // consumer
		true,        // auto-ack, a lost ping costs one poll interval
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go n.consume(ctx, msgs)
	slog.InfoContext(ctx, "AMQP change notifications active",
		"exchange", n.exchangeName,
		"queue", n.queueName)
	return nil
}

func (n *Notifier) consume(ctx context.Context, msgs <-chan amqp091.Delivery) {
	defer close(n.doneCh)
	for {
		select {
		case <-n.stopCh:
			return
		case <-ctx.Done():
			return
		case delivery, ok := <-msgs:
			if !ok {
				slog.WarnContext(ctx, "AMQP delivery channel closed")
				return
			}
			msg, err := ChangeMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Ignoring undecodable change message", "error", err)
				continue
			}
			if msg.Source == n.source {
				continue
			}
			n.dispatch(ctx, msg.Key)
		}
	}
}

// dispatch fetches the key's current value from the wrapped store and
// fires the local subscribers.
func (n *Notifier) dispatch(ctx context.Context, key string) {
	n.mu.Lock()
	listeners := make([]func([]byte), 0, len(n.subs[key]))
	for _, fn := range n.subs[key] {
		listeners = append(listeners, fn)
	}
	n.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	value, err := n.inner.Load(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load changed key after ping",
			"key", key,
			"error", err)
		return
	}
	if value == nil {
		return
	}

	slog.InfoContext(ctx, "Remote change ping received", "key", key)
	for _, fn := range listeners {
		fn(value)
	}
}

func (n *Notifier) Load(ctx context.Context, key string) ([]byte, error) {
	return n.inner.Load(ctx, key)
}

// Save writes through to the wrapped store, then pings the other
// instances. A failed ping is not a failed save; the pollers will catch
// up.
func (n *Notifier) Save(ctx context.Context, key string, value []byte) error {
	if err := n.inner.Save(ctx, key, value); err != nil {
		return err
	}

	body, err := NewChangeMessage(key, n.source).ToJSON()
	if err != nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(
		pubCtx,
		n.exchangeName, // exchange
		"",             // routing key ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		slog.WarnContext(ctx, "Failed to publish change ping",
			"key", key,
			"error", err)
	}
	return nil
}

// Subscribe registers with both the wrapped store and the ping listener,
// so changes arrive through whichever path notices first.
func (n *Notifier) Subscribe(key string, onChange func(value []byte)) (func(), error) {
	innerUnsub, err := n.inner.Subscribe(key, onChange)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	if n.subs[key] == nil {
		n.subs[key] = make(map[int]func([]byte))
	}
	n.subs[key][id] = onChange
	n.mu.Unlock()

	return func() {
		innerUnsub()
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[key], id)
	}, nil
}

func (n *Notifier) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
