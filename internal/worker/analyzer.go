package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/queue"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
	"github.com/RubachokBoss/submission-analysis/internal/service/integration"
)

// ArtifactEnsurer generates and caches the artifact if it is not cached yet.
type ArtifactEnsurer interface {
	Ensure(ctx context.Context, submission *models.Submission) error
}

// Analyzer runs the analysis pipeline for one submission.
type Analyzer struct {
	submissionRepo repository.SubmissionRepository
	reportRepo     repository.ReportRepository
	client         integration.AnalysisClient
	artifacts      ArtifactEnsurer
	logger         zerolog.Logger
}

func NewAnalyzer(
	submissionRepo repository.SubmissionRepository,
	reportRepo repository.ReportRepository,
	client integration.AnalysisClient,
	artifacts ArtifactEnsurer,
	logger zerolog.Logger,
) *Analyzer {
	return &Analyzer{
		submissionRepo: submissionRepo,
		reportRepo:     reportRepo,
		client:         client,
		artifacts:      artifacts,
		logger:         logger,
	}
}

// Handle is the queue handler for analyze_submission jobs.
func (a *Analyzer) Handle(ctx context.Context, job *queue.Job) error {
	submissionID, err := submissionIDOf(job)
	if err != nil {
		return queue.Permanent(err)
	}

	return a.Analyze(ctx, submissionID, job.Attempt)
}

// OnFailed marks the report FAILED once the queue gives up on the job.
func (a *Analyzer) OnFailed(ctx context.Context, job *queue.Job, cause error) error {
	submissionID, err := submissionIDOf(job)
	if err != nil {
		// нечего помечать
		return nil
	}

	msg := cause.Error()
	applied, err := a.reportRepo.Upsert(ctx, models.ReportOutcome{
		SubmissionID: submissionID,
		Status:       models.ReportStatusFailed,
		Matches:      models.Matches{},
		ErrorMessage: &msg,
		Attempts:     job.Attempt,
	})
	if err != nil {
		return fmt.Errorf("failed to mark report failed: %w", err)
	}

	a.logger.Error().
		Str("submission_id", submissionID).
		Str("job_id", job.ID).
		Int("attempt", job.Attempt).
		Bool("applied", applied).
		Err(cause).
		Msg("Analysis failed after all attempts")

	return nil
}

// OnRetry marks the report as still in flight while the job waits in the retry queue.
func (a *Analyzer) OnRetry(ctx context.Context, job *queue.Job, _ error) error {
	submissionID, err := submissionIDOf(job)
	if err != nil {
		return nil
	}
	if err := a.reportRepo.MarkAttempt(ctx, submissionID, job.Attempt); err != nil {
		return fmt.Errorf("failed to mark attempt: %w", err)
	}
	return nil
}

func (a *Analyzer) Analyze(ctx context.Context, submissionID string, attempt int) error {
	started := time.Now()
	log := a.logger.With().Str("submission_id", submissionID).Int("attempt", attempt).Logger()

	// 0. Повторная доставка уже завершённой работы.
	report, err := a.reportRepo.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	if report != nil && report.Status.IsTerminal() {
		log.Info().Str("status", report.Status.String()).Msg("Report already final, skipping duplicate job")
		return nil
	}

	// 1. Submission
	submission, err := a.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission: %w", err)
	}
	if submission == nil {
		log.Warn().Msg("Submission not found, dropping job")
		return nil
	}

	// Живая задача: сдвигаем updated_at, чтобы сверка её не дублировала.
	if report == nil {
		if _, err := a.reportRepo.CreatePending(ctx, submissionID); err != nil {
			log.Warn().Err(err).Msg("Failed to create missing report")
		}
	}
	if err := a.reportRepo.MarkAttempt(ctx, submissionID, attempt); err != nil {
		log.Warn().Err(err).Msg("Failed to mark attempt")
	}

	// 2. Collaborator
	result, err := a.client.Check(ctx, integration.CheckRequest{
		SubmissionID: submission.ID,
		AssignmentID: submission.AssignmentID,
		TextContent:  deref(submission.Content),
		FileURL:      deref(submission.FileURL),
	})
	if err != nil {
		var transient *models.TransientCollaboratorError
		if !errors.As(err, &transient) {
			err = &models.TransientCollaboratorError{Op: "check", Err: err}
		}
		log.Warn().Err(err).Msg("Analysis check failed")
		return err
	}

	// 3. Authors
	matches, err := a.enrichMatches(ctx, result.Matches)
	if err != nil {
		return err
	}

	// 4. Report
	applied, err := a.reportRepo.Upsert(ctx, models.ReportOutcome{
		SubmissionID:  submission.ID,
		Status:        models.ReportStatusCompleted,
		Similarity:    result.SimilarityScore,
		AIProbability: result.AIProbability,
		Matches:       matches,
		Attempts:      attempt,
	})
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	if !applied {
		log.Info().Msg("Report finalised concurrently, result discarded")
	}

	// 5. Artifact, best-effort
	if submission.HasFile() && a.artifacts != nil {
		if err := a.artifacts.Ensure(ctx, submission); err != nil {
			log.Warn().Err(err).Msg("Failed to pre-generate artifact")
		}
	}

	log.Info().
		Float64("similarity", result.SimilarityScore).
		Float64("ai_probability", result.AIProbability).
		Int("matches", len(matches)).
		Dur("took", time.Since(started)).
		Msg("Submission analysis completed")

	return nil
}

func (a *Analyzer) enrichMatches(ctx context.Context, raw []integration.CheckMatch) (models.Matches, error) {
	matches := make(models.Matches, 0, len(raw))
	if len(raw) == 0 {
		return matches, nil
	}

	ids := make([]string, len(raw))
	for i, m := range raw {
		ids[i], _ = models.CanonicalID(m.SubmissionID)
	}

	names, err := a.submissionRepo.GetAuthorNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve match authors: %w", err)
	}

	for i, m := range raw {
		name, ok := names[ids[i]]
		if !ok || strings.TrimSpace(name) == "" {
			name = models.UnknownAuthorName
		}
		matches = append(matches, models.Match{
			SubmissionID: ids[i],
			Similarity:   models.Clamp01(m.Similarity),
			AuthorName:   name,
		})
	}

	return matches, nil
}

func submissionIDOf(job *queue.Job) (string, error) {
	if job.Name != models.AnalyzeSubmissionJob {
		return "", fmt.Errorf("unexpected job %q", job.Name)
	}

	var payload models.AnalyzeSubmissionPayload
	if err := job.DecodePayload(&payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.SubmissionID) == "" {
		return "", errors.New("empty submission_id")
	}
	id, ok := models.CanonicalID(payload.SubmissionID)
	if !ok {
		return "", fmt.Errorf("submission_id %q is not a uuid", payload.SubmissionID)
	}

	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
