package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
	"market-signal-lab/internal/marketdata/stub"
)

const (
	nflx domain.Symbol = "NFLX:NASDAQ"
	goog domain.Symbol = "GOOG:NASDAQ"
)

func testParams() domain.BacktestParams {
	return domain.BacktestParams{
		Symbols:          []domain.Symbol{nflx, goog},
		TargetSymbol:     nflx,
		TargetFeature:    "close",
		DiffWindow:       2,
		VarWindow:        2,
		ForecastHorizon:  1,
		MinTrainExamples: 10,
		SparsityFilter:   0.5,
		TopFeatures:      4,
		KNearest:         3,
	}
}

func testSource(n int) *stub.Source {
	goCloses := make(map[domain.Timestamp]float64)
	for t, v := range closes(n) {
		goCloses[t] = 2 * v
	}
	return stub.NewSource().
		SetCloses(nflx, closes(n)).
		SetCloses(goog, goCloses)
}

func TestRunBacktest_NamespacedFeatures(t *testing.T) {
	src := testSource(30)

	seq, err := RunBacktest(context.Background(), src, nil, testParams())
	if err != nil {
		t.Fatalf("RunBacktest failed: %v", err)
	}

	count := 0
	for r := range seq {
		count++
		if len(r.SelectedFeatures) == 0 {
			t.Errorf("Step %d: no features selected", r.Step)
		}
		for _, name := range r.SelectedFeatures {
			if !strings.HasPrefix(name, "NFLX:NASDAQ:") && !strings.HasPrefix(name, "GOOG:NASDAQ:") {
				t.Errorf("Step %d: feature %q is not namespaced", r.Step, name)
			}
		}
	}
	if count != 20 {
		t.Errorf("Expected 20 steps, got %d", count)
	}
}

func TestRunner_Prepare(t *testing.T) {
	src := testSource(20)
	runner := NewRunner(src)

	ts, labels, err := runner.Prepare(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	names := labels.FeatureNames()
	if len(names) != 1 || names[0] != "NFLX:NASDAQ:close(+1 fwd)" {
		t.Errorf("Unexpected label features %v", names)
	}
	if labels.Len() != ts.Len()-1 {
		t.Errorf("Expected %d label rows, got %d", ts.Len()-1, labels.Len())
	}
	// close, two diffs and two vars per symbol
	if ts.Dimensionality() != 10 {
		t.Errorf("Expected 10 features, got %d: %v", ts.Dimensionality(), ts.FeatureNames())
	}
}

func TestRunner_TargetSymbolFetchedWhenNotListed(t *testing.T) {
	src := testSource(20)
	params := testParams()
	params.Symbols = []domain.Symbol{goog}

	if _, _, err := NewRunner(src).Prepare(context.Background(), params); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if src.Calls(nflx) != 1 {
		t.Errorf("Expected target symbol to be fetched once, got %d", src.Calls(nflx))
	}
}

func TestRunner_StartTimeFiltersSeries(t *testing.T) {
	src := testSource(40)
	params := testParams()
	params.StartTime = domain.Timestamp(1_600_000_000 + 15*day)

	seq, err := NewRunner(src).Run(context.Background(), "run-x", params)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count := 0
	for r := range seq {
		count++
		if r.Now < params.StartTime {
			t.Errorf("Step %d: now %d before start", r.Step, r.Now)
		}
		if r.RunID != "run-x" {
			t.Errorf("Step %d: expected run id run-x, got %q", r.Step, r.RunID)
		}
	}
	// 25 rows remain; steps run from index 9 to 23
	if count != 15 {
		t.Errorf("Expected 15 steps, got %d", count)
	}
}

func TestRunner_IncludeFundamentals(t *testing.T) {
	fb := domain.NewSeriesBuilder()
	for ts := range closes(20) {
		fb.Set(ts, nflx.Feature("pe_ratio"), 30)
		fb.Set(ts, "AAPL:NASDAQ:pe_ratio", 25)
	}
	src := testSource(20).SetFundamentals(fb.Build())
	params := testParams()
	params.IncludeFundamentals = true

	ts, _, err := NewRunner(src, WithFundamentals(src)).Prepare(context.Background(), params)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	names := strings.Join(ts.FeatureNames(), ",")
	if !strings.Contains(names, "NFLX:NASDAQ:pe_ratio") {
		t.Error("Expected target fundamentals to be merged")
	}
	if strings.Contains(names, "AAPL:NASDAQ:pe_ratio") {
		t.Error("Fundamentals of unrequested symbols must be dropped")
	}
}

func TestRunner_FetchFailureIsFatal(t *testing.T) {
	cause := errors.New("401 unauthorized")
	src := testSource(20).Fail(goog, cause)

	_, err := RunBacktest(context.Background(), src, nil, testParams())

	var dsErr *marketdata.DataSourceError
	if !errors.As(err, &dsErr) {
		t.Fatalf("Expected DataSourceError, got %v", err)
	}
	if dsErr.Symbol != goog {
		t.Errorf("Expected symbol %s, got %s", goog, dsErr.Symbol)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the cause to be preserved")
	}
}

func TestRunner_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.BacktestParams)
	}{
		{"no target", func(p *domain.BacktestParams) { p.TargetSymbol = "" }},
		{"no target feature", func(p *domain.BacktestParams) { p.TargetFeature = "" }},
		{"zero horizon", func(p *domain.BacktestParams) { p.ForecastHorizon = 0 }},
		{"negative window", func(p *domain.BacktestParams) { p.DiffWindow = -1 }},
		{"unknown diff", func(p *domain.BacktestParams) { p.DiffFunc = "ratio" }},
		{"unknown var", func(p *domain.BacktestParams) { p.VarFunc = "kurtosis" }},
		{"zero k", func(p *domain.BacktestParams) { p.KNearest = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			tt.mutate(&params)
			_, err := RunBacktest(context.Background(), testSource(20), nil, params)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
