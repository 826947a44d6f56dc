package metrics

import (
	"context"
	"errors"

	"market-signal-lab/internal/storage"
)

// ErrNoSteps is returned when a run has no persisted step results.
var ErrNoSteps = errors.New("no step results available for summary")

// Aggregator summarizes persisted backtest runs.
type Aggregator struct {
	runs  storage.RunStore
	steps storage.StepResultStore
}

// NewAggregator creates a new run aggregator.
func NewAggregator(runs storage.RunStore, steps storage.StepResultStore) *Aggregator {
	return &Aggregator{runs: runs, steps: steps}
}

// ComputeSummary loads the steps of a stored run and summarizes them.
// Returns storage.ErrNotFound for an unknown run and ErrNoSteps for a run
// without steps.
func (a *Aggregator) ComputeSummary(ctx context.Context, runID string) (*Summary, error) {
	if _, err := a.runs.GetByID(ctx, runID); err != nil {
		return nil, err
	}

	results, err := a.steps.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoSteps
	}

	s := Summarize(results)
	s.RunID = runID
	return s, nil
}

// ComputeAll summarizes every stored run that has steps, in RunStore.List
// order. Runs without steps are skipped.
func (a *Aggregator) ComputeAll(ctx context.Context) ([]*Summary, error) {
	runs, err := a.runs.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Summary
	for _, run := range runs {
		s, err := a.ComputeSummary(ctx, run.RunID)
		if errors.Is(err, ErrNoSteps) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
