package reporting

import (
	"context"
	"sort"
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/metrics"
	"market-signal-lab/internal/storage"
)

// Generator produces reports from stored runs.
type Generator struct {
	runStore  storage.RunStore
	stepStore storage.StepResultStore
	now       func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(runStore storage.RunStore, stepStore storage.StepResultStore) *Generator {
	return &Generator{
		runStore:  runStore,
		stepStore: stepStore,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate loads a stored run and its steps and builds its report.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	run, err := g.runStore.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := g.stepStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Build(run, steps, g.now()), nil
}

// Build assembles a report from a run and its step results.
func Build(run *domain.BacktestRun, steps []*domain.StepResult, generatedAt time.Time) *Report {
	sorted := make([]*domain.StepResult, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Step < sorted[j].Step
	})

	summary := metrics.Summarize(sorted)
	if run != nil {
		summary.RunID = run.RunID
	}

	return &Report{
		GeneratedAt:  generatedAt,
		Run:          run,
		Summary:      summary,
		Steps:        sorted,
		FeatureUsage: featureUsage(sorted),
	}
}

func featureUsage(steps []*domain.StepResult) []FeatureUsageRow {
	counts := make(map[string]int)
	selecting := 0
	for _, s := range steps {
		if len(s.SelectedFeatures) == 0 {
			continue
		}
		selecting++
		for _, name := range s.SelectedFeatures {
			counts[name]++
		}
	}

	rows := make([]FeatureUsageRow, 0, len(counts))
	for name, n := range counts {
		rows = append(rows, FeatureUsageRow{
			Feature: name,
			Count:   n,
			Share:   float64(n) / float64(selecting),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Feature < rows[j].Feature
	})
	return rows
}
