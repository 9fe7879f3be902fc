package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/models"
)

const (
	defaultRequeueBase = 500 * time.Millisecond
	defaultRequeueMax  = 30 * time.Second
	maxHookRetryDelay  = time.Minute
)

type Handler func(ctx context.Context, job *Job) error

// FailureHook runs once a job is given up on. While it returns an error the job
// is parked in the retry queue and the hook is tried again later.
type FailureHook func(ctx context.Context, job *Job, cause error) error

// RetryHook runs after a retry has been scheduled. Errors are only logged.
type RetryHook func(ctx context.Context, job *Job, cause error) error

type History interface {
	Record(ctx context.Context, record models.JobRecord) error
}

type settlePublisher interface {
	Retry(ctx context.Context, job *Job, delay time.Duration) error
	Fail(ctx context.Context, job *Job) error
}

// Processor settles one delivery: runs the handler and decides between
// ack, delayed retry, dead-lettering into the failed queue and requeue.
type Processor struct {
	publisher settlePublisher
	history   History
	onFailed  FailureHook
	onRetry   RetryHook
	logger    zerolog.Logger
	now       func() time.Time

	// requeue после сбоя брокера: экспоненциальная пауза до nack
	requeueBase   time.Duration
	requeueMax    time.Duration
	requeueStreak atomic.Int32
}

func NewProcessor(publisher settlePublisher, history History, onFailed FailureHook, logger zerolog.Logger) *Processor {
	return &Processor{
		publisher:   publisher,
		history:     history,
		onFailed:    onFailed,
		logger:      logger,
		now:         time.Now,
		requeueBase: defaultRequeueBase,
		requeueMax:  defaultRequeueMax,
	}
}

// WithRetryHook sets the hook called after each scheduled retry.
func (p *Processor) WithRetryHook(hook RetryHook) *Processor {
	p.onRetry = hook
	return p
}

func (p *Processor) Process(ctx context.Context, msg RabbitMQMessage, handler Handler) {
	job, err := DecodeJob(msg.Body)
	if err != nil {
		p.logger.Error().Err(err).Msg("Dropping malformed job message")
		p.ack(msg)
		return
	}

	log := p.logger.With().
		Str("job_id", job.ID).
		Str("job", job.Name).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Logger()

	handlerErr := p.run(ctx, job, handler)
	if handlerErr == nil {
		p.ack(msg)
		p.record(ctx, job, models.JobOutcomeCompleted, nil)
		return
	}

	// Остановка воркера: брокер передоставит сообщение.
	if ctx.Err() != nil && errors.Is(handlerErr, ctx.Err()) {
		log.Warn().Err(handlerErr).Msg("Job interrupted by shutdown, requeueing")
		p.nack(msg, true)
		return
	}

	if !IsPermanent(handlerErr) && !job.Exhausted() {
		p.retry(ctx, msg, job, handlerErr, log)
		return
	}

	if p.onFailed != nil {
		if err := p.onFailed(ctx, job, handlerErr); err != nil {
			p.park(ctx, msg, job, handlerErr, err, log)
			return
		}
	}

	failed := *job
	failed.Abandoned = false
	failed.LastError = handlerErr.Error()
	if err := p.publisher.Fail(ctx, &failed); err != nil {
		log.Error().Err(err).Msg("Failed to move job to failed queue")
	}

	log.Error().Err(handlerErr).Bool("permanent", IsPermanent(handlerErr)).Msg("Job failed permanently")
	p.ack(msg)
	p.record(ctx, job, models.JobOutcomeFailed, handlerErr)
}

// run skips the handler for abandoned jobs: their attempts are spent.
func (p *Processor) run(ctx context.Context, job *Job, handler Handler) error {
	if !job.Abandoned {
		return handler(ctx, job)
	}

	cause := job.LastError
	if cause == "" {
		cause = "attempts exhausted"
	}
	return Permanent(errors.New(cause))
}

func (p *Processor) retry(ctx context.Context, msg RabbitMQMessage, job *Job, cause error, log zerolog.Logger) {
	delay := RetryDelay(job.Backoff(), job.Attempt)
	next := job.Next(cause)

	if err := p.publisher.Retry(ctx, next, delay); err != nil {
		log.Error().Err(err).Msg("Failed to schedule retry")
		p.requeueLater(ctx, msg, log)
		return
	}

	log.Warn().Err(cause).Dur("retry_in", delay).Msg("Job failed, retry scheduled")
	p.ack(msg)
	p.requeueStreak.Store(0)

	if p.onRetry != nil {
		if err := p.onRetry(ctx, next, cause); err != nil {
			log.Warn().Err(err).Msg("Retry hook failed")
		}
	}
}

// park sends a job whose failure hook failed back through the retry queue on the
// same attempt, so the hook is tried again after a delay instead of at once.
func (p *Processor) park(ctx context.Context, msg RabbitMQMessage, job *Job, cause, hookErr error, log zerolog.Logger) {
	delay := RetryDelay(job.Backoff(), job.Attempt)
	if delay > maxHookRetryDelay {
		delay = maxHookRetryDelay
	}

	parked := *job
	parked.Abandoned = true
	parked.LastError = cause.Error()

	if err := p.publisher.Retry(ctx, &parked, delay); err != nil {
		log.Error().Err(hookErr).AnErr("publish_error", err).Msg("Failure hook failed and job could not be parked")
		p.requeueLater(ctx, msg, log)
		return
	}

	log.Error().Err(hookErr).Dur("retry_in", delay).Msg("Failure hook failed, hook retry scheduled")
	p.ack(msg)
	p.requeueStreak.Store(0)
}

// requeueLater nacks with requeue after a pause that grows with consecutive
// broker failures, so an outage does not turn into a redelivery loop.
func (p *Processor) requeueLater(ctx context.Context, msg RabbitMQMessage, log zerolog.Logger) {
	streak := int(p.requeueStreak.Add(1))

	delay := RetryDelay(p.requeueBase, streak)
	if delay > p.requeueMax {
		delay = p.requeueMax
	}

	log.Warn().Dur("requeue_in", delay).Int("streak", streak).Msg("Requeueing job after pause")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	p.nack(msg, true)
}

func (p *Processor) record(ctx context.Context, job *Job, outcome models.JobOutcome, cause error) {
	if p.history == nil {
		return
	}

	rec := models.JobRecord{
		JobID:       job.ID,
		Name:        job.Name,
		Outcome:     outcome,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		FinishedAt:  p.now().UTC(),
	}
	var payload models.AnalyzeSubmissionPayload
	if job.DecodePayload(&payload) == nil {
		rec.SubmissionID = payload.SubmissionID
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	// best-effort
	if err := p.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record job history")
	}
}

func (p *Processor) ack(msg RabbitMQMessage) {
	if msg.Ack == nil {
		return
	}
	if err := msg.Ack(false); err != nil {
		p.logger.Error().Err(err).Msg("Failed to ack message")
	}
}

func (p *Processor) nack(msg RabbitMQMessage, requeue bool) {
	if msg.Nack == nil {
		return
	}
	if err := msg.Nack(false, requeue); err != nil {
		p.logger.Error().Err(err).Msg("Failed to nack message")
	}
}
