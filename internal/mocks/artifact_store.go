package mocks

import (
	"context"
	"sync"

	"github.com/RubachokBoss/submission-analysis/internal/models"
)

// MockArtifactStore implements repository.ArtifactStore in memory.
type MockArtifactStore struct {
	mu      sync.Mutex
	Objects map[string]*models.Artifact

	GetErr    error
	PutErr    error
	DeleteErr error

	Puts    int
	Deletes []string
}

func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{Objects: make(map[string]*models.Artifact)}
}

func (m *MockArtifactStore) Get(_ context.Context, key string) (*models.Artifact, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Objects[key]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MockArtifactStore) Put(_ context.Context, key string, a *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	if m.PutErr != nil {
		return m.PutErr
	}
	cp := *a
	m.Objects[key] = &cp
	return nil
}

func (m *MockArtifactStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, key)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.Objects, key)
	return nil
}

func (m *MockArtifactStore) Exists(_ context.Context, key string) (bool, error) {
	if m.GetErr != nil {
		return false, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Objects[key]
	return ok, nil
}
