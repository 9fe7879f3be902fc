package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrAlreadyConsuming = errors.New("consumer already started")

type RabbitMQMessage struct {
	Body      []byte
	Timestamp time.Time
	Ack       func(multiple bool) error
	Nack      func(multiple bool, requeue bool) error
}

type Consumer interface {
	// Consume starts delivery. The returned channel closes when ctx is cancelled,
	// Close is called or the broker drops the subscription.
	Consume(ctx context.Context) (<-chan RabbitMQMessage, error)
	GetQueueLength() (int, error)
	Close() error
}

// deliveryChannel is the part of *amqp.Channel the consumer needs.
type deliveryChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	IsClosed() bool
}

type rabbitMQConsumer struct {
	channel     deliveryChannel
	queue       string
	consumerTag string
	prefetch    int
	logger      zerolog.Logger

	mu        sync.Mutex
	started   bool
	cancelled bool
}

// NewConsumer reads the work queue with manual ack. At most prefetch deliveries
// are unacked at a time, so prefetch should equal the worker pool size: the
// broker then never hands this process more jobs than it can run.
func NewConsumer(channel deliveryChannel, queue, consumerTag string, prefetch int, logger zerolog.Logger) Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &rabbitMQConsumer{
		channel:     channel,
		queue:       queue,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		logger:      logger.With().Str("queue", queue).Str("consumer_tag", consumerTag).Logger(),
	}
}

func (c *rabbitMQConsumer) Consume(ctx context.Context) (<-chan RabbitMQMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, ErrAlreadyConsuming
	}

	// global=false: лимит на этого потребителя, а не на весь канал
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.queue,
		c.consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", c.queue, err)
	}
	c.started = true

	output := make(chan RabbitMQMessage)
	go c.forward(ctx, deliveries, output)

	c.logger.Info().Int("prefetch", c.prefetch).Msg("RabbitMQ consumer started")

	return output, nil
}

// forward hands deliveries to the worker one at a time. On cancellation it stops
// the subscription and returns everything still buffered to the queue.
func (c *rabbitMQConsumer) forward(ctx context.Context, deliveries <-chan amqp.Delivery, output chan<- RabbitMQMessage) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			c.stop(deliveries)
			return
		case d, ok := <-deliveries:
			if !ok {
				if c.isCancelled() {
					c.logger.Info().Msg("RabbitMQ subscription cancelled")
				} else {
					c.logger.Warn().Msg("RabbitMQ delivery channel closed by broker")
				}
				return
			}

			select {
			case output <- toMessage(d):
			case <-ctx.Done():
				requeue(d)
				c.stop(deliveries)
				return
			}
		}
	}
}

func (c *rabbitMQConsumer) stop(deliveries <-chan amqp.Delivery) {
	if !c.cancel() {
		// подписка уже снята или канал закрыт: забираем только буфер
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				requeue(d)
			default:
				return
			}
		}
	}

	// после basic.cancel библиотека закрывает канал доставок
	returned := 0
	for d := range deliveries {
		requeue(d)
		returned++
	}
	if returned > 0 {
		c.logger.Info().Int("returned", returned).Msg("Returned buffered deliveries to queue")
	}
}

// cancel sends basic.cancel once. It reports whether the broker accepted it.
func (c *rabbitMQConsumer) cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled || !c.started {
		return false
	}
	c.cancelled = true

	if c.channel.IsClosed() {
		return false
	}
	if err := c.channel.Cancel(c.consumerTag, false); err != nil {
		c.logger.Error().Err(err).Msg("Failed to cancel RabbitMQ consumer")
		return false
	}
	return true
}

func (c *rabbitMQConsumer) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *rabbitMQConsumer) GetQueueLength() (int, error) {
	queue, err := c.channel.QueueDeclarePassive(c.queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}

	return queue.Messages, nil
}

// Close stops the subscription. Deliveries already handed out stay unacked
// until the processor settles them.
func (c *rabbitMQConsumer) Close() error {
	c.cancel()
	c.logger.Info().Msg("RabbitMQ consumer closed")
	return nil
}

func toMessage(d amqp.Delivery) RabbitMQMessage {
	return RabbitMQMessage{
		Body:      d.Body,
		Timestamp: d.Timestamp,
		Ack:       d.Ack,
		Nack:      d.Nack,
	}
}

func requeue(d amqp.Delivery) {
	_ = d.Nack(false, true)
}
