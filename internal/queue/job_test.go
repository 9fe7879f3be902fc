package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDefaults(t *testing.T) {
	job, err := NewJob("analyze_submission", map[string]string{"submission_id": "s1"}, EnqueueOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, DefaultAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultBackoff, job.Backoff())
	assert.JSONEq(t, `{"submission_id":"s1"}`, string(job.Payload))
}

func TestNewJobRequiresName(t *testing.T) {
	_, err := NewJob("", nil, EnqueueOptions{})
	require.Error(t, err)
}

func TestDecodeJobFillsMissingCounters(t *testing.T) {
	job, err := DecodeJob([]byte(`{"id":"j1","name":"analyze_submission","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, DefaultAttempts, job.MaxAttempts)

	_, err = DecodeJob([]byte(`{"id":"j1"}`))
	require.Error(t, err)

	_, err = DecodeJob([]byte(`not json`))
	require.Error(t, err)
}

func TestJobNextIncrementsAttempt(t *testing.T) {
	job := &Job{ID: "j1", Name: "n", Attempt: 1, MaxAttempts: 3}
	next := job.Next(errors.New("timeout"))

	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, "timeout", next.LastError)
	assert.Equal(t, 1, job.Attempt)
	assert.False(t, next.Exhausted())
	assert.True(t, next.Next(nil).Exhausted())
}

func TestRetryDelayDoubles(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, RetryDelay(5*time.Second, 2))
	assert.Equal(t, 20*time.Second, RetryDelay(5*time.Second, 3))
	assert.Equal(t, DefaultBackoff, RetryDelay(0, 0))
	assert.Equal(t, time.Hour, RetryDelay(time.Minute, 20))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
