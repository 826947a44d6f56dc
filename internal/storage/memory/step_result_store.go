package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

type stepKey struct {
	runID string
	step  int
}

// StepResultStore is an in-memory implementation of storage.StepResultStore.
type StepResultStore struct {
	mu   sync.RWMutex
	data map[stepKey]*domain.StepResult
}

// NewStepResultStore creates a new in-memory step result store.
func NewStepResultStore() *StepResultStore {
	return &StepResultStore{
		data: make(map[stepKey]*domain.StepResult),
	}
}

// InsertBulk adds results atomically. Fails entire batch on any duplicate.
func (s *StepResultStore) InsertBulk(_ context.Context, results []*domain.StepResult) error {
	if len(results) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[stepKey]struct{}, len(results))
	for _, r := range results {
		if r == nil || r.RunID == "" || r.Step < 1 {
			return storage.ErrInvalidInput
		}
		key := stepKey{runID: r.RunID, step: r.Step}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range results {
		s.data[stepKey{runID: r.RunID, step: r.Step}] = cloneStep(r)
	}
	return nil
}

// GetByRunID retrieves a run's results ordered by step.
func (s *StepResultStore) GetByRunID(_ context.Context, runID string) ([]*domain.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StepResult
	for key, r := range s.data {
		if key.runID == runID {
			result = append(result, cloneStep(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Step < result[j].Step
	})
	return result, nil
}

func cloneStep(r *domain.StepResult) *domain.StepResult {
	c := *r
	c.Predicted = cloneFloat(r.Predicted)
	c.Actual = cloneFloat(r.Actual)
	c.PredictedValue = cloneFloat(r.PredictedValue)
	c.ActualValue = cloneFloat(r.ActualValue)
	c.Correlation = cloneFloat(r.Correlation)
	c.SelectedFeatures = slices.Clone(r.SelectedFeatures)
	return &c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ storage.StepResultStore = (*StepResultStore)(nil)
