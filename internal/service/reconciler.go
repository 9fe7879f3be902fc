package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/queue"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
)

type SweepResult struct {
	Created  int `json:"created"`
	Requeued int `json:"requeued"`
}

// Reconciler repairs submissions whose report or job was lost between the
// producer's independent writes.
type Reconciler struct {
	submissionRepo repository.SubmissionRepository
	reportRepo     repository.ReportRepository
	enqueuer       Enqueuer
	cfg            config.ReconcileConfig
	jobOptions     queue.EnqueueOptions
	logger         zerolog.Logger
	now            func() time.Time
}

func NewReconciler(
	submissionRepo repository.SubmissionRepository,
	reportRepo repository.ReportRepository,
	enqueuer Enqueuer,
	cfg config.ReconcileConfig,
	analysisCfg config.AnalysisConfig,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		submissionRepo: submissionRepo,
		reportRepo:     reportRepo,
		enqueuer:       enqueuer,
		cfg:            cfg,
		jobOptions:     JobOptions(analysisCfg),
		logger:         logger,
		now:            time.Now,
	}
}

func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := r.now().Add(-r.cfg.StaleAfter)

	orphans, err := r.submissionRepo.ListWithoutReport(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list submissions without report: %w", err)
	}

	for _, id := range orphans {
		created, err := r.reportRepo.CreatePending(ctx, id)
		if err != nil {
			r.logger.Error().Err(err).Str("submission_id", id).Msg("Failed to create missing report")
			continue
		}
		if !created {
			continue
		}
		result.Created++
		if r.enqueue(ctx, id) {
			result.Requeued++
		}
	}

	stale, err := r.reportRepo.ListStalePending(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list stale reports: %w", err)
	}

	requeued := make([]string, 0, len(stale))
	for _, id := range stale {
		if r.enqueue(ctx, id) {
			requeued = append(requeued, id)
		}
	}
	result.Requeued += len(requeued)

	// touch, чтобы не переотправлять те же задачи на следующем проходе
	if err := r.reportRepo.Touch(ctx, requeued); err != nil {
		return result, fmt.Errorf("failed to touch requeued reports: %w", err)
	}

	if result.Created > 0 || result.Requeued > 0 {
		r.logger.Info().
			Int("created", result.Created).
			Int("requeued", result.Requeued).
			Msg("Reconciliation sweep repaired submissions")
	}

	return result, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Dur("stale_after", r.cfg.StaleAfter).Msg("Reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation sweep failed")
			}
		}
	}
}

func (r *Reconciler) enqueue(ctx context.Context, submissionID string) bool {
	job, err := r.enqueuer.Enqueue(ctx, models.AnalyzeSubmissionJob,
		models.AnalyzeSubmissionPayload{SubmissionID: submissionID}, r.jobOptions)
	if err != nil {
		r.logger.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to re-enqueue analysis job")
		return false
	}

	r.logger.Debug().Str("submission_id", submissionID).Str("job_id", job.ID).Msg("Analysis job re-enqueued")
	return true
}
