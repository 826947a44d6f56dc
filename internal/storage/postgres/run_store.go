package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL. Parameters are
// stored as JSONB.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, run *domain.BacktestRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO backtest_runs (run_id, params, created_at)
		VALUES ($1, $2, $3)
	`, run.RunID, params, run.CreatedAt)
	if err != nil {
		return translate("insert backtest run", err)
	}
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.BacktestRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, params, created_at
		FROM backtest_runs
		WHERE run_id = $1
	`, runID)

	run, err := scanRun(row)
	if err != nil {
		return nil, translate("get backtest run", err)
	}
	return run, nil
}

// List retrieves all runs ordered by creation time.
func (s *RunStore) List(ctx context.Context) ([]*domain.BacktestRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, params, created_at
		FROM backtest_runs
		ORDER BY created_at ASC, run_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*domain.BacktestRun, error) {
	var run domain.BacktestRun
	var params []byte
	if err := row.Scan(&run.RunID, &params, &run.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &run.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return &run, nil
}
