package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// RunStore keeps run metadata in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]results.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]results.Run)}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run results.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", results.ErrRunExists, run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun replaces the stored run.
func (s *RunStore) UpdateRun(_ context.Context, run results.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("%w: %s", results.ErrRunNotFound, run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (results.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return results.Run{}, fmt.Errorf("%w: %s", results.ErrRunNotFound, runID)
	}
	return run, nil
}
