package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/queue"
)

type WorkerStats struct {
	BusyWorkers    int `json:"busy_workers"`
	MaxWorkers     int `json:"max_workers"`
	TotalProcessed int `json:"total_processed"`
	QueueLength    int `json:"queue_length"`
}

// AnalysisWorker pulls deliveries from the broker and settles each one on the pool.
type AnalysisWorker interface {
	// Run blocks until ctx is cancelled or the delivery stream ends.
	Run(ctx context.Context) error
	GetStats() WorkerStats
}

type analysisWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.Consumer
	processor     *queue.Processor
	handler       queue.Handler
	drainTimeout  time.Duration
	logger        zerolog.Logger

	stats      WorkerStats
	statsMutex sync.RWMutex
	startTime  time.Time
}

func NewAnalysisWorker(
	workerPool *WorkerPool,
	queueConsumer queue.Consumer,
	processor *queue.Processor,
	handler queue.Handler,
	drainTimeout time.Duration,
	logger zerolog.Logger,
) AnalysisWorker {
	return &analysisWorker{
		workerPool:    workerPool,
		queueConsumer: queueConsumer,
		processor:     processor,
		handler:       handler,
		drainTimeout:  drainTimeout,
		logger:        logger,
		startTime:     time.Now(),
	}
}

func (w *analysisWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("Starting analysis worker...")

	// In-flight jobs outlive ctx by up to drainTimeout.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	w.workerPool.Start()
	defer w.drain(cancelJobs)

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	w.logger.Info().Msg("Analysis worker started successfully")

	return w.processMessages(ctx, jobCtx, msgs)
}

func (w *analysisWorker) drain(cancelJobs context.CancelFunc) {
	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	done := make(chan struct{})
	go func() {
		w.workerPool.Stop()
		close(done)
	}()

	if w.drainTimeout > 0 {
		select {
		case <-done:
		case <-time.After(w.drainTimeout):
			w.logger.Warn().Dur("timeout", w.drainTimeout).Msg("In-flight jobs did not finish, cancelling")
			cancelJobs()
			<-done
		}
	} else {
		<-done
	}

	w.logger.Info().
		Int("total_processed", w.GetStats().TotalProcessed).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Analysis worker stopped")
}

func (w *analysisWorker) processMessages(ctx, jobCtx context.Context, msgs <-chan queue.RabbitMQMessage) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("message channel closed by broker")
			}

			accepted := w.workerPool.Submit(ctx, func() {
				w.processor.Process(jobCtx, msg, w.handler)

				w.statsMutex.Lock()
				w.stats.TotalProcessed++
				w.statsMutex.Unlock()
			})
			if !accepted {
				if msg.Nack != nil {
					_ = msg.Nack(false, true)
				}
			}
		}
	}
}

func (w *analysisWorker) GetStats() WorkerStats {
	w.statsMutex.RLock()
	stats := w.stats
	w.statsMutex.RUnlock()

	stats.BusyWorkers = w.workerPool.GetBusyWorkers()
	stats.MaxWorkers = w.workerPool.MaxWorkers()
	stats.QueueLength = w.workerPool.GetQueueLength()

	return stats
}
