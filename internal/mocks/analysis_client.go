package mocks

import (
	"context"
	"sync"

	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/service/integration"
)

// MockAnalysisClient implements integration.AnalysisClient and counts calls.
type MockAnalysisClient struct {
	mu sync.Mutex

	CheckFn     func(ctx context.Context, req integration.CheckRequest) (*integration.CheckResult, error)
	HighlightFn func(ctx context.Context, req integration.HighlightRequest) (*models.Artifact, error)

	CheckCalls     int
	HighlightCalls int
}

func (m *MockAnalysisClient) Check(ctx context.Context, req integration.CheckRequest) (*integration.CheckResult, error) {
	m.mu.Lock()
	m.CheckCalls++
	m.mu.Unlock()

	if m.CheckFn != nil {
		return m.CheckFn(ctx, req)
	}
	return &integration.CheckResult{Matches: []integration.CheckMatch{}}, nil
}

func (m *MockAnalysisClient) Highlight(ctx context.Context, req integration.HighlightRequest) (*models.Artifact, error) {
	m.mu.Lock()
	m.HighlightCalls++
	m.mu.Unlock()

	if m.HighlightFn != nil {
		return m.HighlightFn(ctx, req)
	}
	return &models.Artifact{
		Content:     []byte("%PDF-1.4"),
		ContentType: models.DefaultArtifactContentType,
		FileName:    models.DefaultArtifactFileName(req.SubmissionID),
	}, nil
}

func (m *MockAnalysisClient) Calls() (check, highlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CheckCalls, m.HighlightCalls
}
