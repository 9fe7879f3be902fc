package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
)

type ArtifactService interface {
	GetHighlighted(ctx context.Context, requesterID, submissionID string) (*models.Artifact, error)
}

type artifactService struct {
	submissionRepo repository.SubmissionRepository
	readThrough    *ReadThrough
	logger         zerolog.Logger
}

func NewArtifactService(submissionRepo repository.SubmissionRepository, readThrough *ReadThrough, logger zerolog.Logger) ArtifactService {
	return &artifactService{
		submissionRepo: submissionRepo,
		readThrough:    readThrough,
		logger:         logger,
	}
}

func (s *artifactService) GetHighlighted(ctx context.Context, requesterID, submissionID string) (*models.Artifact, error) {
	access, err := s.submissionRepo.GetWithAccess(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if access == nil {
		return nil, models.ErrSubmissionNotFound
	}

	// Только преподаватель класса; любое звено цепочки отсутствует - отказ.
	if !isOwningTeacher(access, requesterID) {
		s.logger.Warn().
			Str("submission_id", submissionID).
			Str("requester_id", requesterID).
			Msg("Artifact access denied")
		return nil, models.ErrForbidden
	}

	if !access.HasFile() {
		return nil, models.ErrNoFileAttached
	}

	artifact, err := s.readThrough.Fetch(ctx, &access.Submission)
	if err != nil {
		s.logger.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to serve artifact")
		return nil, err
	}

	return artifact, nil
}

func isOwningTeacher(access *models.SubmissionAccess, requesterID string) bool {
	return requesterID != "" && access.TeacherID != "" && access.TeacherID == requesterID
}
