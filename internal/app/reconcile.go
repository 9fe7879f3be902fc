package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/database"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
	"github.com/RubachokBoss/submission-analysis/internal/service"
)

// Sweep runs a single reconciliation pass and exits.
func Sweep(ctx context.Context, cfg *config.Config, log zerolog.Logger) (service.SweepResult, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return service.SweepResult{}, err
	}
	defer db.Close()

	conn, publisher, err := connectQueue(cfg.RabbitMQ, log)
	if err != nil {
		return service.SweepResult{}, err
	}
	defer conn.Close()

	reconciler := service.NewReconciler(
		repository.NewSubmissionRepository(db, log),
		repository.NewReportRepository(db, log),
		publisher,
		cfg.Reconcile,
		cfg.Analysis,
		log,
	)

	return reconciler.Sweep(ctx)
}
