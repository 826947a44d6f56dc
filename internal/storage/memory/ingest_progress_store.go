package memory

import (
	"context"
	"sync"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// IngestProgressStore is an in-memory implementation of storage.IngestProgressStore.
type IngestProgressStore struct {
	mu       sync.RWMutex
	progress map[domain.Symbol]domain.Timestamp
}

// NewIngestProgressStore creates a new in-memory ingest progress store.
func NewIngestProgressStore() *IngestProgressStore {
	return &IngestProgressStore{
		progress: make(map[domain.Symbol]domain.Timestamp),
	}
}

// GetLastIngested returns the newest ingested timestamp of a symbol.
func (s *IngestProgressStore) GetLastIngested(_ context.Context, symbol domain.Symbol) (*storage.IngestProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.progress[symbol]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.IngestProgress{Symbol: symbol, Timestamp: ts}, nil
}

// SetLastIngested saves the newest ingested timestamp of a symbol.
func (s *IngestProgressStore) SetLastIngested(_ context.Context, progress *storage.IngestProgress) error {
	if progress == nil || progress.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[progress.Symbol] = progress.Timestamp
	return nil
}

var _ storage.IngestProgressStore = (*IngestProgressStore)(nil)
