package mocks

import (
	"context"
	"sync"

	"github.com/RubachokBoss/submission-analysis/internal/queue"
)

// MockEnqueuer records enqueued jobs instead of publishing them.
type MockEnqueuer struct {
	mu   sync.Mutex
	Jobs []*queue.Job
	Err  error
}

func (m *MockEnqueuer) Enqueue(_ context.Context, name string, payload interface{}, opts queue.EnqueueOptions) (*queue.Job, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	job, err := queue.NewJob(name, payload, opts)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Jobs = append(m.Jobs, job)
	m.mu.Unlock()
	return job, nil
}

func (m *MockEnqueuer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Jobs)
}
