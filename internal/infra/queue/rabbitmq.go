package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gyandhara/gyandhara-api/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RoutingMigrationRun is the routing key the migration queue is bound to.
const RoutingMigrationRun = "migration.run"

// ErrDrop tells the consumer to reject a message without requeueing it.
var ErrDrop = errors.New("drop message")

// tableCarrier adapts amqp.Table to TextMapCarrier for OpenTelemetry propagation
type tableCarrier struct {
	table amqp.Table
}

func (c tableCarrier) Get(key string) string {
	if val, ok := c.table[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", val)
	}
	return ""
}

func (c tableCarrier) Set(key, value string) {
	c.table[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c.table))
	for k := range c.table {
		keys = append(keys, k)
	}
	return keys
}

type DialFunc func() (*amqp.Connection, error)

// Declare sets up the topic exchange and the migration queue bound to it.
// Publisher and consumer both call it, so either may start first.
func Declare(ch *amqp.Channel, cfg *config.Config) (amqp.Queue, error) {
	if err := ch.ExchangeDeclare(cfg.RabbitMQ.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("declare exchange %s: %w", cfg.RabbitMQ.Exchange, err)
	}
	q, err := ch.QueueDeclare(cfg.RabbitMQ.MigrationQueue, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue %s: %w", cfg.RabbitMQ.MigrationQueue, err)
	}
	if err := ch.QueueBind(q.Name, RoutingMigrationRun, cfg.RabbitMQ.Exchange, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return q, nil
}

type Publisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	log    *zap.Logger
	cfg    *config.Config
	dialFn DialFunc
	mu     sync.RWMutex
	closed bool
}

func NewPublisher(conn *amqp.Connection, log *zap.Logger, cfg *config.Config, dialFn DialFunc) (*Publisher, error) {
	ch, err := openChannel(conn, cfg)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		conn:   conn,
		ch:     ch,
		log:    log,
		cfg:    cfg,
		dialFn: dialFn,
	}
	go p.watchConnection()
	return p, nil
}

func openChannel(conn *amqp.Connection, cfg *config.Config) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := Declare(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// watchConnection reconnects whenever the broker drops the connection.
func (p *Publisher) watchConnection() {
	for {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			return
		}
		conn := p.conn
		p.mu.RUnlock()

		amqpErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed {
			return
		}

		if amqpErr != nil {
			p.log.Warn("RabbitMQ connection closed", zap.Error(amqpErr))
		} else {
			p.log.Warn("RabbitMQ connection closed gracefully")
		}
		p.reconnect()
	}
}

// reconnect re-dials with exponential backoff until it succeeds or the
// publisher is closed.
func (p *Publisher) reconnect() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed {
			return
		}

		p.log.Info("Attempting to reconnect to RabbitMQ", zap.Duration("backoff", backoff))
		conn, err := p.dialFn()
		if err == nil {
			var ch *amqp.Channel
			if ch, err = openChannel(conn, p.cfg); err == nil {
				p.mu.Lock()
				p.conn = conn
				p.ch = ch
				p.mu.Unlock()
				p.log.Info("Successfully reconnected to RabbitMQ")
				return
			}
			conn.Close()
		}

		p.log.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

func (p *Publisher) getChannel() (*amqp.Channel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, errors.New("publisher is closed")
	}
	if p.ch == nil {
		return nil, errors.New("channel is not available")
	}
	return p.ch, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}

func (p *Publisher) PublishJSON(ctx context.Context, exchangeName string, routingKey string, body any) error {
	b, err := sonic.Marshal(body)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(p.cfg.App.Name).Start(ctx, "rabbitmq.publish",
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", exchangeName),
			attribute.String("messaging.destination_kind", "exchange"),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		))
	defer span.End()

	headers := make(amqp.Table)
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier{table: headers})

	ch, err := p.getChannel()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         b,
		Headers:      headers,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("messaging.message.body.size", len(b)))
	return nil
}

// HandlerFunc processes one message body. Returning ErrDrop rejects the
// message; any other error requeues it.
type HandlerFunc func(ctx context.Context, body []byte) error

type Consumer struct {
	ch  *amqp.Channel
	q   amqp.Queue
	log *zap.Logger
	cfg *config.Config
}

func NewConsumer(conn *amqp.Connection, log *zap.Logger, cfg *config.Config) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	prefetch := cfg.RabbitMQ.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	q, err := Declare(ch, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, q: q, log: log, cfg: cfg}, nil
}

func (c *Consumer) Close() error { return c.ch.Close() }

// Handle consumes until ctx is done or the channel closes.
func (c *Consumer) Handle(ctx context.Context, handler HandlerFunc) error {
	msgs, err := c.ch.Consume(c.q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return errors.New("consumer channel closed")
			}
			c.deliver(ctx, m, handler)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, m amqp.Delivery, handler HandlerFunc) {
	if m.Headers != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, tableCarrier{table: m.Headers})
	}
	ctx, span := otel.Tracer(c.cfg.App.Name).Start(ctx, "rabbitmq.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", c.q.Name),
			attribute.String("messaging.destination_kind", "queue"),
			attribute.String("messaging.operation", "receive"),
			attribute.Int("messaging.message.body.size", len(m.Body)),
		))
	defer span.End()

	err := handler(ctx, m.Body)
	switch {
	case err == nil:
		_ = m.Ack(false)
	case errors.Is(err, ErrDrop):
		span.RecordError(err)
		_ = m.Nack(false, false)
		c.log.Sugar().Warnw("dropped message", "routing_key", m.RoutingKey, "err", err)
	default:
		span.RecordError(err)
		_ = m.Nack(false, true)
		c.log.Sugar().Errorw("consume error", "routing_key", m.RoutingKey, "err", err)
	}
}
