package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/mocks"
	"github.com/RubachokBoss/submission-analysis/internal/models"
)

type submissionFixture struct {
	subs     *mocks.MockSubmissionRepository
	reports  *mocks.MockReportRepository
	store    *mocks.MockArtifactStore
	enqueuer *mocks.MockEnqueuer
	service  SubmissionService
}

func newSubmissionFixture() *submissionFixture {
	f := &submissionFixture{
		subs:     mocks.NewMockSubmissionRepository(),
		reports:  mocks.NewMockReportRepository(),
		store:    mocks.NewMockArtifactStore(),
		enqueuer: &mocks.MockEnqueuer{},
	}
	f.service = NewSubmissionService(f.subs, f.reports, f.store, f.enqueuer,
		config.AnalysisConfig{MaxAttempts: 3}, zerolog.Nop())
	return f
}

func TestCreatePersistsPendingReportAndEnqueues(t *testing.T) {
	f := newSubmissionFixture()
	student := uuid.NewString()

	resp, err := f.service.Create(context.Background(), student, models.CreateSubmissionRequest{
		AssignmentID: uuid.NewString(),
		Content:      strPtr("my essay"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.ReportStatusPending, resp.ReportStatus)
	assert.True(t, resp.Queued)
	assert.Contains(t, f.subs.Submissions, resp.ID)
	assert.True(t, f.reports.Has(resp.ID))

	require.Equal(t, 1, f.enqueuer.Count())
	job := f.enqueuer.Jobs[0]
	assert.Equal(t, models.AnalyzeSubmissionJob, job.Name)
	assert.Equal(t, 3, job.MaxAttempts)

	var payload models.AnalyzeSubmissionPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, resp.ID, payload.SubmissionID)
}

func TestCreateSurvivesEnqueueFailure(t *testing.T) {
	f := newSubmissionFixture()
	f.enqueuer.Err = errors.New("broker unavailable")

	resp, err := f.service.Create(context.Background(), uuid.NewString(), models.CreateSubmissionRequest{
		AssignmentID: uuid.NewString(),
		FileURL:      strPtr("https://files/a.pdf"),
	})
	require.NoError(t, err)

	assert.False(t, resp.Queued)
	assert.Equal(t, models.ReportStatusPending, resp.ReportStatus)
	assert.Contains(t, f.subs.Submissions, resp.ID)
}

func TestCreateValidation(t *testing.T) {
	f := newSubmissionFixture()
	student := uuid.NewString()

	cases := map[string]models.CreateSubmissionRequest{
		"no body":            {AssignmentID: uuid.NewString()},
		"blank content":      {AssignmentID: uuid.NewString(), Content: strPtr("   ")},
		"bad assignment id":  {AssignmentID: "42", Content: strPtr("x")},
		"malformed file url": {AssignmentID: uuid.NewString(), FileURL: strPtr("not a url")},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Create(context.Background(), student, req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
	assert.Zero(t, f.enqueuer.Count())
}

func TestCreateUnknownAssignmentIsValidationError(t *testing.T) {
	f := newSubmissionFixture()
	f.subs.CreateErr = &pq.Error{Code: "23503"}

	_, err := f.service.Create(context.Background(), uuid.NewString(), models.CreateSubmissionRequest{
		AssignmentID: uuid.NewString(),
		Content:      strPtr("x"),
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}

// Report rows go with the submission via ON DELETE CASCADE; the cached artifact is removed explicitly.
func TestDeleteRemovesSubmissionAndArtifact(t *testing.T) {
	f := newSubmissionFixture()
	student := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, StudentID: student}, "", "")
	f.store.Objects[models.ArtifactKey(subID)] = &models.Artifact{Content: []byte("pdf")}

	require.NoError(t, f.service.Delete(context.Background(), student, subID))

	assert.NotContains(t, f.subs.Submissions, subID)
	assert.NotContains(t, f.store.Objects, models.ArtifactKey(subID))

	resp, err := f.service.Create(context.Background(), student, models.CreateSubmissionRequest{
		AssignmentID: uuid.NewString(),
		Content:      strPtr("second try"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, subID, resp.ID)
	assert.Equal(t, models.ReportStatusPending, resp.ReportStatus)
	assert.Equal(t, 1, f.enqueuer.Count())
}

func TestDeleteSucceedsWhenArtifactRemovalFails(t *testing.T) {
	f := newSubmissionFixture()
	student := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, StudentID: student}, "", "")
	f.store.DeleteErr = errors.New("minio down")

	require.NoError(t, f.service.Delete(context.Background(), student, subID))
	assert.Equal(t, []string{models.ArtifactKey(subID)}, f.store.Deletes)
}

func TestDeleteRules(t *testing.T) {
	f := newSubmissionFixture()
	student := uuid.NewString()

	graded := uuid.NewString()
	f.subs.Add(&models.Submission{ID: graded, StudentID: student, Graded: true}, "", "")
	assert.ErrorIs(t, f.service.Delete(context.Background(), student, graded), models.ErrSubmissionGraded)

	assert.ErrorIs(t, f.service.Delete(context.Background(), uuid.NewString(), graded), models.ErrForbidden)
	assert.ErrorIs(t, f.service.Delete(context.Background(), student, uuid.NewString()), models.ErrSubmissionNotFound)
	assert.Contains(t, f.subs.Submissions, graded)
}

func TestGetReportAccess(t *testing.T) {
	f := newSubmissionFixture()
	student, teacher := uuid.NewString(), uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, StudentID: student}, teacher, "")
	_, _ = f.reports.CreatePending(context.Background(), subID)

	resp, err := f.service.GetReport(context.Background(), student, subID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPending, resp.Status)
	assert.Equal(t, "analysis in progress", resp.StatusMessage)

	_, err = f.service.GetReport(context.Background(), teacher, subID)
	require.NoError(t, err)

	_, err = f.service.GetReport(context.Background(), uuid.NewString(), subID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestGetReportWithoutRowIsPending(t *testing.T) {
	f := newSubmissionFixture()
	student := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, StudentID: student}, "", "")

	resp, err := f.service.GetReport(context.Background(), student, subID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPending, resp.Status)
}
