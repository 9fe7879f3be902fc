package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/queue"
)

type fakeConsumer struct {
	msgs   chan queue.RabbitMQMessage
	closed bool
}

func (f *fakeConsumer) Consume(context.Context) (<-chan queue.RabbitMQMessage, error) {
	return f.msgs, nil
}

func (f *fakeConsumer) GetQueueLength() (int, error) { return len(f.msgs), nil }

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

type ackCounter struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (a *ackCounter) msg(t *testing.T, job *queue.Job) queue.RabbitMQMessage {
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return queue.RabbitMQMessage{
		Body: body,
		Ack: func(bool) error {
			a.mu.Lock()
			a.acks++
			a.mu.Unlock()
			return nil
		},
		Nack: func(bool, bool) error {
			a.mu.Lock()
			a.nacks++
			a.mu.Unlock()
			return nil
		},
	}
}

func TestAnalysisWorkerProcessesDeliveries(t *testing.T) {
	f := newAnalyzerFixture()
	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage)}
	proc := queue.NewProcessor(&loopbackPublisher{}, nil, f.analyzer.OnFailed, zerolog.Nop())
	w := NewAnalysisWorker(NewWorkerPool(2, zerolog.Nop()), consumer, proc, f.analyzer.Handle, time.Second, zerolog.Nop())

	acks := &ackCounter{}
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		f.subs.Add(&models.Submission{ID: id, Content: strPtr("text")}, "", "")
	}

	go func() {
		for _, id := range ids {
			consumer.msgs <- acks.msg(t, analyzeJob(t, id, 1, 3))
		}
		close(consumer.msgs)
	}()

	// closed delivery stream without cancellation is reported as an error
	err := w.Run(context.Background())
	require.Error(t, err)

	assert.True(t, consumer.closed)
	assert.Equal(t, 3, acks.acks)
	assert.Equal(t, 3, w.GetStats().TotalProcessed)
	for _, id := range ids {
		r, _ := f.reports.GetBySubmissionID(context.Background(), id)
		require.NotNil(t, r)
		assert.Equal(t, models.ReportStatusCompleted, r.Status)
	}
}

func TestAnalysisWorkerStopsOnCancel(t *testing.T) {
	f := newAnalyzerFixture()
	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage)}
	proc := queue.NewProcessor(&loopbackPublisher{}, nil, nil, zerolog.Nop())
	w := NewAnalysisWorker(NewWorkerPool(1, zerolog.Nop()), consumer, proc, f.analyzer.Handle, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
