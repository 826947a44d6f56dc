package postgres

import (
	"context"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// IngestProgressStore is a PostgreSQL implementation of storage.IngestProgressStore.
type IngestProgressStore struct {
	pool *Pool
}

// NewIngestProgressStore creates a new PostgreSQL ingest progress store.
func NewIngestProgressStore(pool *Pool) *IngestProgressStore {
	return &IngestProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.IngestProgressStore = (*IngestProgressStore)(nil)

// GetLastIngested returns the newest ingested timestamp of a symbol.
func (s *IngestProgressStore) GetLastIngested(ctx context.Context, symbol domain.Symbol) (*storage.IngestProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT last_ts FROM ingest_progress WHERE symbol = $1
	`, string(symbol))

	var ts int64
	if err := row.Scan(&ts); err != nil {
		return nil, translate("get ingest progress", err)
	}
	return &storage.IngestProgress{Symbol: symbol, Timestamp: domain.Timestamp(ts)}, nil
}

// SetLastIngested upserts the progress of a symbol.
func (s *IngestProgressStore) SetLastIngested(ctx context.Context, progress *storage.IngestProgress) error {
	if progress == nil || progress.Symbol == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_progress (symbol, last_ts, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (symbol) DO UPDATE
		SET last_ts = EXCLUDED.last_ts,
		    updated_at = NOW()
	`, string(progress.Symbol), int64(progress.Timestamp))
	if err != nil {
		return translate("set ingest progress", err)
	}
	return nil
}
