// Package broker provides the resilient AMQP transport for the pipeline: a
// bounded connection pool, idempotent topology declaration, durable mandatory
// publishing with confirms, and restartable consume streams.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/parsera-labs/dispatch/internal/retry"
)

// DefaultPoolSize bounds the number of broker connections held at once.
const DefaultPoolSize = 16

// Sentinel transport errors.
var (
	// ErrPoolExhausted means channel acquisition failed even after retries.
	// Callers must not proceed without a channel.
	ErrPoolExhausted = errors.New("broker connection pool exhausted")
	// ErrUnroutable means the broker returned a mandatory publish: no queue
	// is bound to the routing key. It indicates a topology bug and is never
	// retried.
	ErrUnroutable = errors.New("message unroutable")
)

// Config carries broker connection settings.
type Config struct {
	URL      string
	PoolSize int
	Prefetch int
}

// Broker owns the connection pool and the declared topology. One Broker is
// shared by all tasks in the process; individual channels are checked out per
// logical operation and never shared concurrently.
type Broker struct {
	cfg      Config
	topology Topology
	logger   *zap.Logger

	dial     dialer
	acqRetry retry.Policy // increasing jitter, for connect/channel/consume setup
	pubRetry retry.Policy // fixed interval, for steady-state publishes

	mu    sync.Mutex
	slots []wireConn
	next  int
}

// Option customizes a Broker.
type Option func(*Broker)

// WithDialer replaces the AMQP dialer (tests).
func WithDialer(d dialer) Option {
	return func(b *Broker) { b.dial = d }
}

// WithAcquireRetry replaces the connection/consume setup retry policy.
func WithAcquireRetry(p retry.Policy) Option {
	return func(b *Broker) { b.acqRetry = p }
}

// WithPublishRetry replaces the publish retry policy.
func WithPublishRetry(p retry.Policy) Option {
	return func(b *Broker) { b.pubRetry = p }
}

// New builds a Broker over cfg with the given topology. No connection is
// opened until first use.
func New(cfg Config, topology Topology, logger *zap.Logger, opts ...Option) *Broker {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		cfg:      cfg,
		topology: topology,
		logger:   logger,
		dial:     amqpDial,
		acqRetry: retry.New(retry.WithLogger(logger)),
		pubRetry: retry.Fixed(retry.DefaultMaxAttempts, retry.DefaultInterval, retry.WithLogger(logger)),
		slots:    make([]wireConn, 0, cfg.PoolSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topology returns the declared topology.
func (b *Broker) Topology() Topology {
	return b.topology
}

// Channel checks out a fresh channel, acquiring (or re-dialing) a pooled
// connection under the backoff retry policy. Exhausted retries surface as
// ErrPoolExhausted; callers must treat that as fatal for the operation.
func (b *Broker) Channel(ctx context.Context) (wireChannel, error) {
	var ch wireChannel
	err := b.acqRetry.DoBackoff(ctx, "acquire broker channel", func(ctx context.Context) error {
		conn, err := b.conn()
		if err != nil {
			return err
		}
		c, err := conn.Channel()
		if err != nil {
			b.invalidate(conn)
			return fmt.Errorf("open channel: %w", err)
		}
		ch = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	}
	return ch, nil
}

// conn hands out the next pooled connection round-robin, dialing lazily and
// replacing closed connections in place.
func (b *Broker) conn() (wireConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.slots) < b.cfg.PoolSize {
		conn, err := b.dial(b.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		b.slots = append(b.slots, conn)
		return conn, nil
	}

	b.next = (b.next + 1) % len(b.slots)
	conn := b.slots[b.next]
	if conn == nil || conn.IsClosed() {
		fresh, err := b.dial(b.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redial broker: %w", err)
		}
		b.slots[b.next] = fresh
		conn = fresh
	}
	return conn, nil
}

// invalidate drops a broken connection from the pool so the next checkout
// redials its slot.
func (b *Broker) invalidate(conn wireConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.slots {
		if c == conn {
			_ = c.Close()
			b.slots[i] = nil
			return
		}
	}
}

// Publish sends body to the exchange under the routing key: persistent
// delivery, mandatory flag, confirm mode. Transient failures are retried
// bounded; an unroutable return is surfaced immediately as ErrUnroutable.
// A failed publish is never silently dropped.
func (b *Broker) Publish(ctx context.Context, exchange, key string, body []byte) error {
	var permanent error
	err := b.pubRetry.Do(ctx, "basic publish", func(ctx context.Context) error {
		err := b.publishOnce(ctx, exchange, key, body)
		if errors.Is(err, ErrUnroutable) {
			// Redelivery cannot fix a topology bug; stop retrying.
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}
	return nil
}

// PublishQueue publishes to a stage queue through the produce exchange.
func (b *Broker) PublishQueue(ctx context.Context, queue string, body []byte) error {
	return b.Publish(ctx, b.topology.ProduceExchange, queue, body)
}

// PublishInbound feeds an event back to the router through the consume
// exchange (fan-out: the routing key is ignored).
func (b *Broker) PublishInbound(ctx context.Context, body []byte) error {
	return b.Publish(ctx, b.topology.ConsumeExchange, "", body)
}

func (b *Broker) publishOnce(ctx context.Context, exchange, key string, body []byte) error {
	ch, err := b.Channel(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			b.logger.Debug("close publish channel", zap.Error(cerr))
		}
	}()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, exchange, key, true, false, msg); err != nil {
		return fmt.Errorf("basic publish: %w", err)
	}

	select {
	case ret := <-returns:
		return fmt.Errorf("%w: %s (exchange %q, routing key %q)",
			ErrUnroutable, ret.ReplyText, exchange, key)
	case conf := <-confirms:
		// A returned message is confirmed too; the return arrives first on
		// the wire, so check once more before trusting the ack.
		select {
		case ret := <-returns:
			return fmt.Errorf("%w: %s (exchange %q, routing key %q)",
				ErrUnroutable, ret.ReplyText, exchange, key)
		default:
		}
		if !conf.Ack {
			return fmt.Errorf("broker nacked publish (tag %d)", conf.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await publish confirm: %w", ctx.Err())
	}
}

// Close tears down all pooled connections.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for i, conn := range b.slots {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.slots[i] = nil
	}
	b.slots = b.slots[:0]
	return firstErr
}
