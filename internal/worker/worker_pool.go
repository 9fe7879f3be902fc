package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Task func()

type WorkerPool struct {
	tasks       chan Task
	wg          sync.WaitGroup
	busyWorkers int
	maxWorkers  int
	logger      zerolog.Logger
	mu          sync.RWMutex
	stopOnce    sync.Once
	shutdown    chan struct{}
}

func NewWorkerPool(maxWorkers int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		tasks:      make(chan Task, maxWorkers),
		maxWorkers: maxWorkers,
		logger:     logger,
		shutdown:   make(chan struct{}),
	}
}

func (wp *WorkerPool) Start() {
	wp.logger.Info().Int("max_workers", wp.maxWorkers).Msg("Starting worker pool")

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops accepting tasks and waits for queued and running ones to finish.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info().Msg("Stopping worker pool")
		close(wp.shutdown)
		close(wp.tasks)
		wp.wg.Wait()
		wp.logger.Info().Msg("Worker pool stopped")
	})
}

// Submit blocks until a worker slot accepts the task. It returns false when ctx
// is done or the pool is stopping; the caller still owns the task then.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) (accepted bool) {
	defer func() {
		// send on closed channel after Stop
		if recover() != nil {
			accepted = false
		}
	}()

	select {
	case <-wp.shutdown:
		return false
	default:
	}

	select {
	case wp.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	case <-wp.shutdown:
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug().Int("worker_id", id).Msg("Worker started")

	for task := range wp.tasks {
		wp.run(id, task)
	}

	wp.logger.Debug().Int("worker_id", id).Msg("Worker stopped")
}

func (wp *WorkerPool) run(id int, task Task) {
	wp.mu.Lock()
	wp.busyWorkers++
	wp.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Msg("Worker recovered from panic")
		}

		wp.mu.Lock()
		wp.busyWorkers--
		wp.mu.Unlock()
	}()

	task()
}

func (wp *WorkerPool) GetBusyWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.busyWorkers
}

func (wp *WorkerPool) GetQueueLength() int {
	return len(wp.tasks)
}

func (wp *WorkerPool) MaxWorkers() int {
	return wp.maxWorkers
}
