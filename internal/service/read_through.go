package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
	"github.com/RubachokBoss/submission-analysis/internal/service/integration"
)

// ReadThrough is the one path that generates and caches artifacts. The worker and the
// download endpoint both go through it, so they always agree on the object key.
type ReadThrough struct {
	store       repository.ArtifactStore
	generator   integration.AnalysisClient
	submissions repository.SubmissionRepository
	group       singleflight.Group
	logger      zerolog.Logger
}

func NewReadThrough(
	store repository.ArtifactStore,
	generator integration.AnalysisClient,
	submissions repository.SubmissionRepository,
	logger zerolog.Logger,
) *ReadThrough {
	return &ReadThrough{
		store:       store,
		generator:   generator,
		submissions: submissions,
		logger:      logger,
	}
}

// Fetch serves the cached artifact or generates, stores and serves a fresh one.
func (rt *ReadThrough) Fetch(ctx context.Context, submission *models.Submission) (*models.Artifact, error) {
	key := models.ArtifactKey(submission.ID)

	cached, err := rt.store.Get(ctx, key)
	if err != nil {
		// недоступный кэш не должен ломать выдачу
		rt.logger.Warn().Err(err).Str("key", key).Msg("Artifact cache read failed, regenerating")
	}
	if cached != nil {
		return withDefaults(cached, submission.ID), nil
	}

	return rt.generate(ctx, submission)
}

// Ensure generates the artifact only when nothing is cached yet.
func (rt *ReadThrough) Ensure(ctx context.Context, submission *models.Submission) error {
	key := models.ArtifactKey(submission.ID)

	exists, err := rt.store.Exists(ctx, key)
	if err != nil {
		rt.logger.Warn().Err(err).Str("key", key).Msg("Artifact cache check failed")
	}
	if exists {
		return nil
	}

	_, err = rt.generate(ctx, submission)
	return err
}

func (rt *ReadThrough) generate(ctx context.Context, submission *models.Submission) (*models.Artifact, error) {
	key := models.ArtifactKey(submission.ID)

	// Concurrent misses for one key share one generation call. The call is detached
	// from the first caller so its cancellation does not fail the others.
	ch := rt.group.DoChan(key, func() (interface{}, error) {
		genCtx := context.WithoutCancel(ctx)

		if rt.submissionGone(genCtx, submission.ID) {
			return nil, models.ErrSubmissionNotFound
		}

		artifact, err := rt.generator.Highlight(genCtx, integration.HighlightRequest{
			SubmissionID: submission.ID,
			AssignmentID: submission.AssignmentID,
			FileURL:      derefString(submission.FileURL),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrArtifactGeneration, err)
		}
		artifact = withDefaults(artifact, submission.ID)

		if err := rt.store.Put(genCtx, key, artifact); err != nil {
			rt.logger.Error().Err(err).Str("key", key).Msg("Failed to cache artifact, serving uncached")
		} else if rt.submissionGone(genCtx, submission.ID) {
			// Delete удаляет строку раньше объекта: либо он уже убрал наш Put, либо мы видим удаление здесь.
			if err := rt.store.Delete(genCtx, key); err != nil {
				rt.logger.Error().Err(err).Str("key", key).Msg("Failed to remove artifact of deleted submission")
			} else {
				rt.logger.Info().Str("key", key).Msg("Submission deleted during generation, artifact removed")
			}
		} else {
			rt.logger.Info().
				Str("submission_id", submission.ID).
				Str("key", key).
				Int("size", len(artifact.Content)).
				Msg("Artifact generated and cached")
		}

		return artifact, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Artifact), nil
	}
}

// submissionGone reports a confirmed deletion. Lookup errors count as present.
func (rt *ReadThrough) submissionGone(ctx context.Context, submissionID string) bool {
	if rt.submissions == nil {
		return false
	}
	sub, err := rt.submissions.GetByID(ctx, submissionID)
	if err != nil {
		rt.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("Failed to check submission")
		return false
	}
	return sub == nil
}

func withDefaults(a *models.Artifact, submissionID string) *models.Artifact {
	if a.ContentType == "" {
		a.ContentType = models.DefaultArtifactContentType
	}
	if a.FileName == "" {
		a.FileName = models.DefaultArtifactFileName(submissionID)
	}
	return a
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
