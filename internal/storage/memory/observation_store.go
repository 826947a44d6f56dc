package memory

import (
	"context"
	"sort"
	"sync"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

type observationKey struct {
	symbol    domain.Symbol
	timestamp domain.Timestamp
	metric    string
}

// ObservationStore is an in-memory implementation of storage.ObservationStore.
type ObservationStore struct {
	mu   sync.RWMutex
	data map[observationKey]*domain.Observation
}

// NewObservationStore creates a new in-memory observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{
		data: make(map[observationKey]*domain.Observation),
	}
}

func keyOf(o *domain.Observation) observationKey {
	return observationKey{symbol: o.Symbol, timestamp: o.Timestamp, metric: o.Metric}
}

// InsertBulk adds observations atomically. Fails entire batch on any duplicate.
func (s *ObservationStore) InsertBulk(_ context.Context, obs []*domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[observationKey]struct{}, len(obs))
	for _, o := range obs {
		if o == nil || o.Symbol == "" || o.Metric == "" || !domain.IsFinite(o.Value) {
			return storage.ErrInvalidInput
		}
		key := keyOf(o)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, o := range obs {
		c := *o
		s.data[keyOf(o)] = &c
	}
	return nil
}

// GetBySymbol retrieves all observations of a symbol.
func (s *ObservationStore) GetBySymbol(_ context.Context, symbol domain.Symbol) ([]*domain.Observation, error) {
	return s.filter(func(o *domain.Observation) bool { return o.Symbol == symbol }), nil
}

// GetBySymbols retrieves observations of several symbols.
func (s *ObservationStore) GetBySymbols(_ context.Context, symbols []domain.Symbol) ([]*domain.Observation, error) {
	want := make(map[domain.Symbol]struct{}, len(symbols))
	for _, sym := range symbols {
		want[sym] = struct{}{}
	}
	return s.filter(func(o *domain.Observation) bool {
		_, ok := want[o.Symbol]
		return ok
	}), nil
}

// GetByTimeRange retrieves observations of a symbol within [start, end] (inclusive).
func (s *ObservationStore) GetByTimeRange(_ context.Context, symbol domain.Symbol, start, end domain.Timestamp) ([]*domain.Observation, error) {
	return s.filter(func(o *domain.Observation) bool {
		return o.Symbol == symbol && o.Timestamp >= start && o.Timestamp <= end
	}), nil
}

func (s *ObservationStore) filter(keep func(*domain.Observation) bool) []*domain.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Observation
	for _, o := range s.data {
		if keep(o) {
			c := *o
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		if result[i].Symbol != result[j].Symbol {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].Metric < result[j].Metric
	})
	return result
}

var _ storage.ObservationStore = (*ObservationStore)(nil)
