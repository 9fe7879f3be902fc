package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	pool := NewWorkerPool(3, zerolog.Nop())
	pool.Start()

	var done int32
	for i := 0; i < 20; i++ {
		ok := pool.Submit(context.Background(), func() { atomic.AddInt32(&done, 1) })
		assert.True(t, ok)
	}
	pool.Stop()

	assert.Equal(t, int32(20), atomic.LoadInt32(&done))
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2, zerolog.Nop())
	pool.Start()

	var running, peak int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		pool.Submit(context.Background(), func() {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	pool.Stop()

	assert.LessOrEqual(t, peak, int32(2))
}

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	pool.Start()

	var ran int32
	pool.Submit(context.Background(), func() { panic("boom") })
	pool.Submit(context.Background(), func() { atomic.StoreInt32(&ran, 1) })
	pool.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.Zero(t, pool.GetBusyWorkers())
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	pool.Start()
	pool.Stop()

	assert.False(t, pool.Submit(context.Background(), func() {}))
}

func TestWorkerPoolSubmitHonoursContext(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	pool.Submit(context.Background(), func() { <-release })
	// fills the buffer
	pool.Submit(context.Background(), func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, pool.Submit(ctx, func() {}))

	close(release)
}
