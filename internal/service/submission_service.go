package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/queue"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
)

type SubmissionService interface {
	Create(ctx context.Context, studentID string, req models.CreateSubmissionRequest) (*models.CreateSubmissionResponse, error)
	Delete(ctx context.Context, studentID, submissionID string) error
	GetReport(ctx context.Context, requesterID, submissionID string) (*models.ReportResponse, error)
}

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}, opts queue.EnqueueOptions) (*queue.Job, error)
}

type submissionService struct {
	submissionRepo repository.SubmissionRepository
	reportRepo     repository.ReportRepository
	artifactStore  repository.ArtifactStore
	enqueuer       Enqueuer
	validate       *validator.Validate
	jobOptions     queue.EnqueueOptions
	logger         zerolog.Logger
}

func NewSubmissionService(
	submissionRepo repository.SubmissionRepository,
	reportRepo repository.ReportRepository,
	artifactStore repository.ArtifactStore,
	enqueuer Enqueuer,
	cfg config.AnalysisConfig,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		submissionRepo: submissionRepo,
		reportRepo:     reportRepo,
		artifactStore:  artifactStore,
		enqueuer:       enqueuer,
		validate:       validator.New(),
		jobOptions:     JobOptions(cfg),
		logger:         logger,
	}
}

func JobOptions(cfg config.AnalysisConfig) queue.EnqueueOptions {
	return queue.EnqueueOptions{Attempts: cfg.MaxAttempts, Backoff: cfg.BackoffBase}
}

func (s *submissionService) Create(ctx context.Context, studentID string, req models.CreateSubmissionRequest) (*models.CreateSubmissionResponse, error) {
	req.Content = trimmedOrNil(req.Content)
	req.FileURL = trimmedOrNil(req.FileURL)

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if _, err := uuid.Parse(studentID); err != nil {
		return nil, models.ErrForbidden
	}

	submission := &models.Submission{
		ID:           uuid.New().String(),
		StudentID:    studentID,
		AssignmentID: req.AssignmentID,
		Content:      req.Content,
		FileURL:      req.FileURL,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.submissionRepo.Create(ctx, submission); err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown assignment or student", models.ErrValidation)
		}
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	log := s.logger.With().Str("submission_id", submission.ID).Logger()

	// Отчёт и задача - best-effort: работа уже сохранена, пропуски подберёт reconciler.
	if _, err := s.reportRepo.CreatePending(ctx, submission.ID); err != nil {
		log.Error().Err(err).Msg("Failed to create pending report")
	}

	queued := true
	job, err := s.enqueuer.Enqueue(ctx, models.AnalyzeSubmissionJob,
		models.AnalyzeSubmissionPayload{SubmissionID: submission.ID}, s.jobOptions)
	if err != nil {
		queued = false
		log.Error().Err(err).Msg("Failed to enqueue analysis job")
	} else {
		log.Info().Str("job_id", job.ID).Msg("Submission created, analysis queued")
	}

	return &models.CreateSubmissionResponse{
		ID:           submission.ID,
		AssignmentID: submission.AssignmentID,
		ReportStatus: models.ReportStatusPending,
		Queued:       queued,
		CreatedAt:    submission.CreatedAt,
	}, nil
}

func (s *submissionService) Delete(ctx context.Context, studentID, submissionID string) error {
	submission, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission: %w", err)
	}
	if submission == nil {
		return models.ErrSubmissionNotFound
	}
	if submission.StudentID != studentID {
		return models.ErrForbidden
	}
	if submission.Graded {
		return models.ErrSubmissionGraded
	}

	deleted, err := s.submissionRepo.Delete(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	if !deleted {
		return models.ErrSubmissionNotFound
	}

	key := models.ArtifactKey(submissionID)
	if err := s.artifactStore.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove cached artifact")
	}

	s.logger.Info().Str("submission_id", submissionID).Msg("Submission retracted")
	return nil
}

func (s *submissionService) GetReport(ctx context.Context, requesterID, submissionID string) (*models.ReportResponse, error) {
	access, err := s.submissionRepo.GetWithAccess(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if access == nil {
		return nil, models.ErrSubmissionNotFound
	}
	if requesterID == "" || (requesterID != access.StudentID && !isOwningTeacher(access, requesterID)) {
		return nil, models.ErrForbidden
	}

	report, err := s.reportRepo.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		// строку создаст reconciler; для клиента это всё ещё "в работе"
		report = &models.Report{
			SubmissionID: submissionID,
			Status:       models.ReportStatusPending,
			UpdatedAt:    access.CreatedAt,
		}
	}

	return models.NewReportResponse(report), nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
