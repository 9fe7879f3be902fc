package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RubachokBoss/submission-analysis/internal/models"
)

// MockReportRepository implements repository.ReportRepository with the same
// forward-only upsert rule as the SQL version.
type MockReportRepository struct {
	mu sync.Mutex

	Reports map[string]*models.Report
	Touched []string
	Marked  []string

	MarkErr error

	UpsertErr  error
	GetErr     error
	CreateErr  error
	UpsertCall int
}

func NewMockReportRepository() *MockReportRepository {
	return &MockReportRepository{Reports: make(map[string]*models.Report)}
}

func (m *MockReportRepository) CreatePending(_ context.Context, submissionID string) (bool, error) {
	if m.CreateErr != nil {
		return false, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Reports[submissionID]; ok {
		return false, nil
	}
	now := time.Now()
	m.Reports[submissionID] = &models.Report{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		Status:       models.ReportStatusPending,
		Matches:      models.Matches{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return true, nil
}

func (m *MockReportRepository) Upsert(_ context.Context, o models.ReportOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCall++
	if m.UpsertErr != nil {
		return false, m.UpsertErr
	}

	now := time.Now()
	existing, ok := m.Reports[o.SubmissionID]
	if ok && existing.Status != models.ReportStatusPending {
		return false, nil
	}
	if !ok {
		existing = &models.Report{ID: uuid.New().String(), SubmissionID: o.SubmissionID, CreatedAt: now}
		m.Reports[o.SubmissionID] = existing
	}

	existing.Status = o.Status
	existing.Similarity = models.Clamp01(o.Similarity)
	existing.AIProbability = models.Clamp01(o.AIProbability)
	existing.Matches = o.Matches
	existing.ErrorMessage = o.ErrorMessage
	existing.Attempts = o.Attempts
	existing.UpdatedAt = now
	existing.CompletedAt = &now
	return true, nil
}

func (m *MockReportRepository) GetBySubmissionID(_ context.Context, submissionID string) (*models.Report, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[submissionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MockReportRepository) MarkAttempt(_ context.Context, submissionID string, attempt int) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Marked = append(m.Marked, submissionID)
	r, ok := m.Reports[submissionID]
	if !ok || r.Status != models.ReportStatusPending {
		return nil
	}
	if attempt > r.Attempts {
		r.Attempts = attempt
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MockReportRepository) ListStalePending(_ context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.Reports {
		if r.Status == models.ReportStatusPending && r.UpdatedAt.Before(updatedBefore) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *MockReportRepository) Touch(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if r, ok := m.Reports[id]; ok && r.Status == models.ReportStatusPending {
			r.UpdatedAt = now
		}
	}
	m.Touched = append(m.Touched, ids...)
	return nil
}

func (m *MockReportRepository) Has(submissionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Reports[submissionID]
	return ok
}

// Count returns the number of stored reports for submissionID (0 or 1).
func (m *MockReportRepository) Count(submissionID string) int {
	if m.Has(submissionID) {
		return 1
	}
	return 0
}

func (m *MockReportRepository) Ping(context.Context) error { return nil }
