package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// StepResultStore implements storage.StepResultStore using PostgreSQL.
type StepResultStore struct {
	pool *Pool
}

// NewStepResultStore creates a new StepResultStore.
func NewStepResultStore(pool *Pool) *StepResultStore {
	return &StepResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StepResultStore = (*StepResultStore)(nil)

const insertStepQuery = `
	INSERT INTO backtest_steps (
		run_id, step, now_ts, ts, predicted, actual, predicted_value, actual_value,
		correlation, pairs, train_size, neighbors, selected_features
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// InsertBulk adds results in one transaction. Fails entire batch on any
// duplicate (run_id, step); an unknown run_id is invalid input.
func (s *StepResultStore) InsertBulk(ctx context.Context, results []*domain.StepResult) error {
	if len(results) == 0 {
		return nil
	}
	for _, r := range results {
		if r == nil || r.RunID == "" || r.Step < 1 {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range results {
		features := r.SelectedFeatures
		if features == nil {
			features = []string{}
		}
		batch.Queue(insertStepQuery,
			r.RunID, r.Step, int64(r.Now), int64(r.Timestamp),
			r.Predicted, r.Actual, r.PredictedValue, r.ActualValue,
			r.Correlation, r.Pairs, r.TrainSize, r.Neighbors, features,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range results {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return translate("insert step result", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves a run's results ordered by step.
func (s *StepResultStore) GetByRunID(ctx context.Context, runID string) ([]*domain.StepResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, step, now_ts, ts, predicted, actual, predicted_value, actual_value,
		       correlation, pairs, train_size, neighbors, selected_features
		FROM backtest_steps
		WHERE run_id = $1
		ORDER BY step ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get step results: %w", err)
	}
	defer rows.Close()

	var results []*domain.StepResult
	for rows.Next() {
		var r domain.StepResult
		var now, ts int64
		err := rows.Scan(
			&r.RunID, &r.Step, &now, &ts,
			&r.Predicted, &r.Actual, &r.PredictedValue, &r.ActualValue,
			&r.Correlation, &r.Pairs, &r.TrainSize, &r.Neighbors, &r.SelectedFeatures,
		)
		if err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		r.Now = domain.Timestamp(now)
		r.Timestamp = domain.Timestamp(ts)
		results = append(results, &r)
	}
	return results, rows.Err()
}
