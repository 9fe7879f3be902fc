package app

import (
	"context"
	"database/sql"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/database"
	"github.com/RubachokBoss/submission-analysis/internal/queue"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
	"github.com/RubachokBoss/submission-analysis/internal/service"
	"github.com/RubachokBoss/submission-analysis/internal/service/integration"
	"github.com/RubachokBoss/submission-analysis/internal/worker"
)

// Worker consumes analysis jobs and, when enabled, runs the reconciliation sweep.
type Worker struct {
	logger     zerolog.Logger
	config     *config.Config
	db         *sql.DB
	conn       *queue.Connection
	redis      *redis.Client
	closed     <-chan *amqp.Error
	worker     worker.AnalysisWorker
	reconciler *service.Reconciler
}

func NewWorker(cfg *config.Config, log zerolog.Logger) (*Worker, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	conn, publisher, err := connectQueue(cfg.RabbitMQ, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	artifactStore, err := repository.NewMinIOArtifactStore(cfg.MinIO, log)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}

	// История заданий не критична: без Redis воркер работает, просто не пишет её.
	var history queue.History
	redisClient, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, job history disabled")
	} else {
		history = repository.NewJobHistory(redisClient, cfg.Redis, log)
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}

	submissionRepo := repository.NewSubmissionRepository(db, log)
	reportRepo := repository.NewReportRepository(db, log)
	analysisClient := integration.NewAnalysisClient(cfg.Services.Analysis, log)
	readThrough := service.NewReadThrough(artifactStore, analysisClient, submissionRepo, log)

	analyzer := worker.NewAnalyzer(submissionRepo, reportRepo, analysisClient, readThrough, log)
	processor := queue.NewProcessor(publisher, history, analyzer.OnFailed, log).
		WithRetryHook(analyzer.OnRetry)

	pool := worker.NewWorkerPool(cfg.Analysis.MaxWorkers, log)
	consumer := queue.NewConsumer(consumerCh, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.ConsumerTag, cfg.Analysis.MaxWorkers, log)

	analysisWorker := worker.NewAnalysisWorker(
		pool,
		consumer,
		processor,
		analyzer.Handle,
		cfg.Server.ShutdownTimeout,
		log,
	)

	var reconciler *service.Reconciler
	if cfg.Reconcile.Enabled {
		reconciler = service.NewReconciler(submissionRepo, reportRepo, publisher, cfg.Reconcile, cfg.Analysis, log)
	}

	return &Worker{
		logger:     log,
		config:     cfg,
		db:         db,
		conn:       conn,
		redis:      redisClient,
		closed:     conn.NotifyClose(),
		worker:     analysisWorker,
		reconciler: reconciler,
	}, nil
}

// Run blocks until ctx is cancelled or one of the loops fails.
func (w *Worker) Run(ctx context.Context) error {
	defer w.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.worker.Run(gctx)
	})

	if w.reconciler != nil {
		g.Go(func() error {
			return w.reconciler.Run(gctx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case amqpErr, ok := <-w.closed:
			if !ok || amqpErr == nil {
				return nil
			}
			return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
		}
	})

	err := g.Wait()

	stats := w.worker.GetStats()
	w.logger.Info().Int("processed", stats.TotalProcessed).Msg("Analysis worker stopped")

	return err
}

func (w *Worker) close() {
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}
	if w.redis != nil {
		if err := w.redis.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}
}
