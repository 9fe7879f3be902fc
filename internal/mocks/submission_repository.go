package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/RubachokBoss/submission-analysis/internal/models"
)

// MockSubmissionRepository implements repository.SubmissionRepository.
type MockSubmissionRepository struct {
	mu sync.Mutex

	Submissions map[string]*models.Submission

	// TeacherBySubmission is the teacher reached through assignment -> class.
	TeacherBySubmission map[string]string

	// Authors maps submission id to the author's name.
	Authors map[string]string

	GetByIDErr        error
	CreateErr         error
	AuthorLookupCalls int

	GetAuthorNamesFn func(ctx context.Context, ids []string) (map[string]string, error)

	// HasReport links the store to a report fake for ListWithoutReport.
	HasReport func(submissionID string) bool
}

func NewMockSubmissionRepository() *MockSubmissionRepository {
	return &MockSubmissionRepository{
		Submissions:         make(map[string]*models.Submission),
		TeacherBySubmission: make(map[string]string),
		Authors:             make(map[string]string),
	}
}

func (m *MockSubmissionRepository) Add(s *models.Submission, teacherID, authorName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submissions[s.ID] = s
	if teacherID != "" {
		m.TeacherBySubmission[s.ID] = teacherID
	}
	if authorName != "" {
		m.Authors[s.ID] = authorName
	}
}

func (m *MockSubmissionRepository) Create(_ context.Context, s *models.Submission) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.Submissions[s.ID] = &cp
	return nil
}

func (m *MockSubmissionRepository) GetByID(_ context.Context, id string) (*models.Submission, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Submissions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubmissionRepository) GetWithAccess(_ context.Context, id string) (*models.SubmissionAccess, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Submissions[id]
	if !ok {
		return nil, nil
	}
	return &models.SubmissionAccess{Submission: *s, TeacherID: m.TeacherBySubmission[id]}, nil
}

func (m *MockSubmissionRepository) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Submissions[id]; !ok {
		return false, nil
	}
	delete(m.Submissions, id)
	return true, nil
}

func (m *MockSubmissionRepository) GetAuthorNames(ctx context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	m.AuthorLookupCalls++
	m.mu.Unlock()

	if m.GetAuthorNamesFn != nil {
		return m.GetAuthorNamesFn(ctx, ids)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := m.Authors[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (m *MockSubmissionRepository) ListWithoutReport(_ context.Context, createdBefore time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.Submissions {
		if s.CreatedAt.Before(createdBefore) && (m.HasReport == nil || !m.HasReport(id)) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *MockSubmissionRepository) Ping(context.Context) error { return nil }
