package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RubachokBoss/submission-analysis/internal/mocks"
	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/service/integration"
)

type artifactFixture struct {
	subs    *mocks.MockSubmissionRepository
	store   *mocks.MockArtifactStore
	client  *mocks.MockAnalysisClient
	rt      *ReadThrough
	service ArtifactService
}

func newArtifactFixture() *artifactFixture {
	f := &artifactFixture{
		subs:   mocks.NewMockSubmissionRepository(),
		store:  mocks.NewMockArtifactStore(),
		client: &mocks.MockAnalysisClient{},
	}
	f.rt = NewReadThrough(f.store, f.client, f.subs, zerolog.Nop())
	f.service = NewArtifactService(f.subs, f.rt, zerolog.Nop())
	return f
}

func strPtr(s string) *string { return &s }

func TestGetHighlightedGeneratesOnceThenServesCache(t *testing.T) {
	f := newArtifactFixture()
	teacher := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, FileURL: strPtr("https://files/a.pdf")}, teacher, "")

	first, err := f.service.GetHighlighted(context.Background(), teacher, subID)
	require.NoError(t, err)
	second, err := f.service.GetHighlighted(context.Background(), teacher, subID)
	require.NoError(t, err)

	_, highlights := f.client.Calls()
	assert.Equal(t, 1, highlights)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, "submission_"+subID+"_highlighted.pdf", second.FileName)
	assert.Contains(t, f.store.Objects, "highlighted/"+subID)
}

func TestGetHighlightedCollapsesConcurrentMisses(t *testing.T) {
	f := newArtifactFixture()
	teacher := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, FileURL: strPtr("https://files/a.pdf")}, teacher, "")

	release := make(chan struct{})
	f.client.HighlightFn = func(_ context.Context, req integration.HighlightRequest) (*models.Artifact, error) {
		<-release
		return &models.Artifact{Content: []byte("pdf"), FileName: "x.pdf"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.GetHighlighted(context.Background(), teacher, subID)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	_, highlights := f.client.Calls()
	assert.Equal(t, 1, highlights)
}

// A teacher of another class is refused and nothing is generated.
func TestGetHighlightedForbiddenForOtherTeacher(t *testing.T) {
	f := newArtifactFixture()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, FileURL: strPtr("https://files/a.pdf")}, uuid.NewString(), "")

	_, err := f.service.GetHighlighted(context.Background(), uuid.NewString(), subID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, highlights := f.client.Calls()
	assert.Zero(t, highlights)
}

func TestGetHighlightedFailsClosedWithoutTeacher(t *testing.T) {
	f := newArtifactFixture()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, FileURL: strPtr("https://files/a.pdf")}, "", "")

	_, err := f.service.GetHighlighted(context.Background(), uuid.NewString(), subID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.service.GetHighlighted(context.Background(), "", subID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestGetHighlightedErrors(t *testing.T) {
	f := newArtifactFixture()
	teacher := uuid.NewString()

	_, err := f.service.GetHighlighted(context.Background(), teacher, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrSubmissionNotFound)

	noFile := uuid.NewString()
	f.subs.Add(&models.Submission{ID: noFile, Content: strPtr("text only")}, teacher, "")
	_, err = f.service.GetHighlighted(context.Background(), teacher, noFile)
	assert.ErrorIs(t, err, models.ErrNoFileAttached)

	broken := uuid.NewString()
	f.subs.Add(&models.Submission{ID: broken, FileURL: strPtr("https://files/b.pdf")}, teacher, "")
	f.client.HighlightFn = func(context.Context, integration.HighlightRequest) (*models.Artifact, error) {
		return nil, errors.New("500 from generator")
	}
	_, err = f.service.GetHighlighted(context.Background(), teacher, broken)
	assert.ErrorIs(t, err, models.ErrArtifactGeneration)
	assert.Empty(t, f.store.Objects)
}

func TestGetHighlightedServesWhenCacheWriteFails(t *testing.T) {
	f := newArtifactFixture()
	teacher := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, FileURL: strPtr("https://files/a.pdf")}, teacher, "")
	f.store.PutErr = errors.New("bucket full")

	art, err := f.service.GetHighlighted(context.Background(), teacher, subID)
	require.NoError(t, err)
	assert.NotEmpty(t, art.Content)
	assert.Equal(t, 1, f.store.Puts)
}

func TestGetHighlightedFillsMissingCachedMetadata(t *testing.T) {
	f := newArtifactFixture()
	teacher := uuid.NewString()
	subID := uuid.NewString()
	f.subs.Add(&models.Submission{ID: subID, FileURL: strPtr("https://files/a.pdf")}, teacher, "")
	f.store.Objects[models.ArtifactKey(subID)] = &models.Artifact{Content: []byte("cached")}

	art, err := f.service.GetHighlighted(context.Background(), teacher, subID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultArtifactContentType, art.ContentType)
	assert.Equal(t, models.DefaultArtifactFileName(subID), art.FileName)

	_, highlights := f.client.Calls()
	assert.Zero(t, highlights)
}

func TestEnsureSkipsGenerationWhenCached(t *testing.T) {
	f := newArtifactFixture()
	sub := &models.Submission{ID: uuid.NewString(), FileURL: strPtr("https://files/a.pdf")}
	f.subs.Add(sub, "", "")

	require.NoError(t, f.rt.Ensure(context.Background(), sub))
	require.NoError(t, f.rt.Ensure(context.Background(), sub))

	_, highlights := f.client.Calls()
	assert.Equal(t, 1, highlights)
}

func TestEnsureSkipsDeletedSubmission(t *testing.T) {
	f := newArtifactFixture()
	sub := &models.Submission{ID: uuid.NewString(), FileURL: strPtr("https://files/a.pdf")}

	err := f.rt.Ensure(context.Background(), sub)
	assert.ErrorIs(t, err, models.ErrSubmissionNotFound)

	_, highlights := f.client.Calls()
	assert.Zero(t, highlights)
	assert.Zero(t, f.store.Puts)
}

// The submission is retracted while the collaborator renders its artifact.
func TestEnsureRemovesArtifactOfSubmissionDeletedMidGeneration(t *testing.T) {
	f := newArtifactFixture()
	sub := &models.Submission{ID: uuid.NewString(), FileURL: strPtr("https://files/a.pdf")}
	f.subs.Add(sub, "", "")

	f.client.HighlightFn = func(ctx context.Context, _ integration.HighlightRequest) (*models.Artifact, error) {
		_, err := f.subs.Delete(ctx, sub.ID)
		require.NoError(t, err)
		return &models.Artifact{Content: []byte("%PDF")}, nil
	}

	require.NoError(t, f.rt.Ensure(context.Background(), sub))

	key := models.ArtifactKey(sub.ID)
	assert.Equal(t, 1, f.store.Puts)
	assert.Equal(t, []string{key}, f.store.Deletes)
	assert.NotContains(t, f.store.Objects, key)
}

func TestEnsureKeepsArtifactWhenLookupFails(t *testing.T) {
	f := newArtifactFixture()
	sub := &models.Submission{ID: uuid.NewString(), FileURL: strPtr("https://files/a.pdf")}
	f.subs.Add(sub, "", "")
	f.subs.GetByIDErr = errors.New("db down")

	require.NoError(t, f.rt.Ensure(context.Background(), sub))

	assert.Contains(t, f.store.Objects, models.ArtifactKey(sub.ID))
	assert.Empty(t, f.store.Deletes)
}
