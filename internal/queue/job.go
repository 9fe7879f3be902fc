package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 5 * time.Second
	maxBackoff      = time.Hour
)

type EnqueueOptions struct {
	Attempts int
	Backoff  time.Duration
}

func (o EnqueueOptions) withDefaults() EnqueueOptions {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	return o
}

// Job is the message envelope carried through the work, retry and failed queues.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMs   int64           `json:"backoff_ms"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
	// Abandoned jobs are past their last attempt and only wait for the failure hook.
	Abandoned   bool            `json:"abandoned,omitempty"`
}

func NewJob(name string, payload interface{}, opts EnqueueOptions) (*Job, error) {
	if name == "" {
		return nil, errors.New("job name is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	opts = opts.withDefaults()

	return &Job{
		ID:          uuid.New().String(),
		Name:        name,
		Payload:     raw,
		Attempt:     1,
		MaxAttempts: opts.Attempts,
		BackoffMs:   opts.Backoff.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

func DecodeJob(body []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Name == "" {
		return nil, errors.New("job has no name")
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultAttempts
	}
	return &job, nil
}

func (j *Job) Backoff() time.Duration {
	if j.BackoffMs <= 0 {
		return DefaultBackoff
	}
	return time.Duration(j.BackoffMs) * time.Millisecond
}

func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Next returns the copy that is redelivered after a failed attempt.
func (j *Job) Next(lastErr error) *Job {
	next := *j
	next.Attempt = j.Attempt + 1
	if lastErr != nil {
		next.LastError = lastErr.Error()
	}
	return &next
}

func (j *Job) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", j.Name, err)
	}
	return nil
}

// RetryDelay is base * 2^(attempt-1), capped at one hour.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
