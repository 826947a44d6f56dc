package reporting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
	"market-signal-lab/internal/storage/memory"
)

func f(v float64) *float64 { return &v }

func testRun() *domain.BacktestRun {
	return &domain.BacktestRun{
		RunID:     "run-1",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Params: domain.BacktestParams{
			Symbols:         []domain.Symbol{"NFLX:NASDAQ", "GOOG:NASDAQ"},
			TargetSymbol:    "NFLX:NASDAQ",
			TargetFeature:   "close",
			DiffWindow:      1,
			DiffFunc:        "delta",
			VarWindow:       3,
			VarFunc:         "stdev",
			ForecastHorizon: 1,
			TopFeatures:     2,
			KNearest:        3,
		},
	}
}

func testSteps() []*domain.StepResult {
	return []*domain.StepResult{
		{RunID: "run-1", Step: 2, Timestamp: 1388698200, Predicted: f(1), Actual: f(0.5),
			PredictedValue: f(0.02), ActualValue: f(0.01), Pairs: 1, TrainSize: 11, Neighbors: 3,
			SelectedFeatures: []string{"NFLX:NASDAQ:close(-1 delta)", "GOOG:NASDAQ:close(-1 delta)"}},
		{RunID: "run-1", Step: 1, Timestamp: 1388611800, TrainSize: 10},
		{RunID: "run-1", Step: 3, Timestamp: 1388784600, Predicted: f(-1), Actual: f(-2),
			PredictedValue: f(-0.02), ActualValue: f(-0.03), Correlation: f(1), Pairs: 2, TrainSize: 12, Neighbors: 3,
			SelectedFeatures: []string{"NFLX:NASDAQ:close(-1 delta)"}},
	}
}

func TestBuild_SortsStepsAndCountsFeatures(t *testing.T) {
	gen := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := Build(testRun(), testSteps(), gen)

	for i, s := range r.Steps {
		if s.Step != i+1 {
			t.Fatalf("expected step %d at index %d, got %d", i+1, i, s.Step)
		}
	}
	if r.Summary.RunID != "run-1" || r.Summary.Pairs != 2 {
		t.Errorf("unexpected summary: %+v", r.Summary)
	}
	if len(r.FeatureUsage) != 2 {
		t.Fatalf("expected 2 feature usage rows, got %d", len(r.FeatureUsage))
	}
	if r.FeatureUsage[0].Feature != "NFLX:NASDAQ:close(-1 delta)" || r.FeatureUsage[0].Count != 2 || r.FeatureUsage[0].Share != 1 {
		t.Errorf("unexpected first usage row: %+v", r.FeatureUsage[0])
	}
	if r.FeatureUsage[1].Share != 0.5 {
		t.Errorf("expected share 0.5, got %f", r.FeatureUsage[1].Share)
	}
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	runs := memory.NewRunStore()
	steps := memory.NewStepResultStore()
	if err := runs.Insert(ctx, testRun()); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}
	if err := steps.InsertBulk(ctx, testSteps()); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(runs, steps).WithClock(func() time.Time { return fixed })

	r, err := g.Generate(ctx, "run-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !r.GeneratedAt.Equal(fixed) || len(r.Steps) != 3 {
		t.Errorf("unexpected report: generated %v, %d steps", r.GeneratedAt, len(r.Steps))
	}

	if _, err := g.Generate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRenderCSV(t *testing.T) {
	r := Build(testRun(), testSteps(), time.Time{})
	out := RenderCSV(r.Steps)
	lines := strings.Split(strings.TrimSpace(out), "\n")

	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "run_id,step,now,timestamp,predicted") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[1] != "run-1,1,0,1388611800,,,,,,0,10,0," {
		t.Errorf("unexpected row for step without prediction: %s", lines[1])
	}
	if !strings.Contains(lines[2], "1.000000,0.500000,0.020000,0.010000,,1,11,3,") {
		t.Errorf("unexpected row for step 2: %s", lines[2])
	}
	if !strings.HasSuffix(lines[2], "NFLX:NASDAQ:close(-1 delta);GOOG:NASDAQ:close(-1 delta)") {
		t.Errorf("expected joined features, got: %s", lines[2])
	}
}

func TestRenderMarkdown(t *testing.T) {
	gen := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	md := RenderMarkdown(Build(testRun(), testSteps(), gen))

	for _, want := range []string{
		"# Backtest Report",
		"Run: `run-1`",
		"Generated: 2026-02-01T00:00:00Z",
		"| Target | NFLX:NASDAQ:close |",
		"| Scored Pairs | 2 |",
		"| NFLX:NASDAQ:close(-1 delta) | 2 | 1.0000 |",
		"| 1 | 2014-01-01 | - | - | - | 10 | 0 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(Build(nil, nil, time.Time{}))

	if !strings.Contains(md, "No steps evaluated.") || !strings.Contains(md, "No features selected.") {
		t.Errorf("expected empty-state sections, got:\n%s", md)
	}
}
