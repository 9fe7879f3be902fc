package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
)

// Topology describes the exchange and the three queues used for analysis jobs.
type Topology struct {
	Exchange        string
	Queue           string
	RoutingKey      string
	FailedRetention time.Duration
	FailedMaxLength int
}

func NewTopology(cfg config.RabbitMQConfig, routingKey string) Topology {
	return Topology{
		Exchange:        cfg.Exchange,
		Queue:           cfg.QueueName,
		RoutingKey:      routingKey,
		FailedRetention: cfg.FailedRetention,
		FailedMaxLength: cfg.FailedMaxLength,
	}
}

func (t Topology) RetryQueue() string  { return t.Queue + ".retry" }
func (t Topology) FailedQueue() string { return t.Queue + ".failed" }

type Connection struct {
	conn   *amqp.Connection
	logger zerolog.Logger
}

func Dial(url string, logger zerolog.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	logger.Info().Msg("Connected to RabbitMQ")

	return &Connection{conn: conn, logger: logger}, nil
}

func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// NotifyClose reports broker-side connection loss.
func (c *Connection) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (c *Connection) IsClosed() bool {
	return c.conn.IsClosed()
}

// Ping satisfies the health check.
func (c *Connection) Ping(context.Context) error {
	if c.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

// Setup declares the exchange, work queue, retry queue and failed queue.
// Retry messages carry a per-message expiration and dead-letter back into the work queue.
func (c *Connection) Setup(t Topology) error {
	ch, err := c.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		t.Exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if _, err := ch.QueueDeclare(t.RetryQueue(), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    t.Exchange,
		"x-dead-letter-routing-key": t.RoutingKey,
	}); err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	failedArgs := amqp.Table{}
	if t.FailedRetention > 0 {
		failedArgs["x-message-ttl"] = t.FailedRetention.Milliseconds()
	}
	if t.FailedMaxLength > 0 {
		failedArgs["x-max-length"] = int64(t.FailedMaxLength)
	}
	if _, err := ch.QueueDeclare(t.FailedQueue(), true, false, false, false, failedArgs); err != nil {
		return fmt.Errorf("failed to declare failed queue: %w", err)
	}

	c.logger.Info().
		Str("exchange", t.Exchange).
		Str("queue", q.Name).
		Str("retry_queue", t.RetryQueue()).
		Str("failed_queue", t.FailedQueue()).
		Str("routing_key", t.RoutingKey).
		Msg("RabbitMQ queue setup complete")

	return nil
}

func (c *Connection) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		return err
	}
	return nil
}
