package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	// Enqueue returns once the broker has confirmed a persistent publish.
	Enqueue(ctx context.Context, name string, payload interface{}, opts EnqueueOptions) (*Job, error)
	Retry(ctx context.Context, job *Job, delay time.Duration) error
	Fail(ctx context.Context, job *Job) error
}

type publishChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

type rabbitMQPublisher struct {
	channel  publishChannel
	topology Topology
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewPublisher puts ch into confirm mode so every publish waits for the broker ack.
func NewPublisher(ch *amqp.Channel, topology Topology, logger zerolog.Logger) (Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return newPublisher(ch, topology, logger), nil
}

func newPublisher(ch publishChannel, topology Topology, logger zerolog.Logger) *rabbitMQPublisher {
	return &rabbitMQPublisher{
		channel:  ch,
		topology: topology,
		logger:   logger,
	}
}

func (p *rabbitMQPublisher) Enqueue(ctx context.Context, name string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	job, err := NewJob(name, payload, opts)
	if err != nil {
		return nil, err
	}

	if err := p.publish(ctx, p.topology.Exchange, name, job, ""); err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("job_id", job.ID).
		Str("job", job.Name).
		Int("max_attempts", job.MaxAttempts).
		Msg("Job enqueued")

	return job, nil
}

func (p *rabbitMQPublisher) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	// default exchange: routing key is the queue name
	return p.publish(ctx, "", p.topology.RetryQueue(), job, expiration)
}

func (p *rabbitMQPublisher) Fail(ctx context.Context, job *Job) error {
	return p.publish(ctx, "", p.topology.FailedQueue(), job, "")
}

func (p *rabbitMQPublisher) publish(ctx context.Context, exchange, routingKey string, job *Job, expiration string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Ack/nack решения не должны зависеть от отмены контекста обработчика.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    job.ID,
		Type:         job.Name,
		Expiration:   expiration,
		Headers: amqp.Table{
			"x-attempt":      int32(job.Attempt),
			"x-max-attempts": int32(job.MaxAttempts),
		},
	}

	p.mu.Lock()
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(publishCtx, exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}

	// nil when the channel is not in confirm mode
	if confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(publishCtx)
	if err != nil {
		return fmt.Errorf("failed to confirm job %s: %w", job.ID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected job %s", job.ID)
	}

	return nil
}
