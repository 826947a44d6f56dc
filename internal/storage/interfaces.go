// Package storage defines the persistence interfaces for raw market
// observations, ingest progress and backtest runs. Implementations live in
// the memory, postgres and clickhouse subpackages.
package storage

import (
	"context"

	"market-signal-lab/internal/domain"
)

// ObservationStore provides access to raw long-format observations. Prices
// and fundamentals are kept in separate stores.
type ObservationStore interface {
	// InsertBulk adds observations atomically. Fails the entire batch on a
	// duplicate (symbol, timestamp, metric), within the batch or against
	// stored data.
	InsertBulk(ctx context.Context, obs []*domain.Observation) error

	// GetBySymbol retrieves all observations of a symbol, ordered by
	// timestamp then metric.
	GetBySymbol(ctx context.Context, symbol domain.Symbol) ([]*domain.Observation, error)

	// GetBySymbols retrieves observations of several symbols, ordered by
	// timestamp, symbol, metric.
	GetBySymbols(ctx context.Context, symbols []domain.Symbol) ([]*domain.Observation, error)

	// GetByTimeRange retrieves observations of a symbol within [start, end].
	GetByTimeRange(ctx context.Context, symbol domain.Symbol, start, end domain.Timestamp) ([]*domain.Observation, error)
}

// IngestProgress is the newest timestamp ingested for one symbol.
type IngestProgress struct {
	Symbol    domain.Symbol
	Timestamp domain.Timestamp
}

// IngestProgressStore lets ingestion resume without re-inserting
// observations it already stored.
type IngestProgressStore interface {
	// GetLastIngested returns ErrNotFound if the symbol was never ingested.
	GetLastIngested(ctx context.Context, symbol domain.Symbol) (*IngestProgress, error)

	// SetLastIngested records progress for a symbol, replacing the previous value.
	SetLastIngested(ctx context.Context, progress *IngestProgress) error
}

// RunStore provides access to backtest run records.
type RunStore interface {
	// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, run *domain.BacktestRun) error

	// GetByID retrieves a run. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.BacktestRun, error)

	// List retrieves all runs ordered by creation time.
	List(ctx context.Context) ([]*domain.BacktestRun, error)
}

// StepResultStore provides access to per-step backtest results.
type StepResultStore interface {
	// InsertBulk adds results atomically. Fails the entire batch on a
	// duplicate (run_id, step).
	InsertBulk(ctx context.Context, results []*domain.StepResult) error

	// GetByRunID retrieves a run's results ordered by step.
	GetByRunID(ctx context.Context, runID string) ([]*domain.StepResult, error)
}
