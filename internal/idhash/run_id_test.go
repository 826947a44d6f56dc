package idhash

import (
	"testing"

	"github.com/mr-tron/base58"

	"market-signal-lab/internal/domain"
)

func baseParams() domain.BacktestParams {
	return domain.BacktestParams{
		Symbols:         []domain.Symbol{"NFLX:NASDAQ", "GOOG:NASDAQ"},
		TargetSymbol:    "NFLX:NASDAQ",
		TargetFeature:   "close",
		DiffWindow:      3,
		DiffFunc:        "delta",
		VarWindow:       5,
		VarFunc:         "stdev",
		ForecastHorizon: 5,
		SparsityFilter:  0.5,
		TopFeatures:     3,
		KNearest:        3,
	}
}

func TestComputeRunID_Deterministic(t *testing.T) {
	first := ComputeRunID(baseParams())
	for i := 0; i < 100; i++ {
		if got := ComputeRunID(baseParams()); got != first {
			t.Fatalf("iteration %d: expected %s, got %s", i, first, got)
		}
	}

	decoded, err := base58.Decode(first)
	if err != nil {
		t.Fatalf("run id is not base58: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("expected 32-byte digest, got %d bytes", len(decoded))
	}
}

func TestComputeRunID_ParamsChangeID(t *testing.T) {
	base := ComputeRunID(baseParams())

	tests := []struct {
		name   string
		modify func(*domain.BacktestParams)
	}{
		{"symbol order", func(p *domain.BacktestParams) {
			p.Symbols = []domain.Symbol{"GOOG:NASDAQ", "NFLX:NASDAQ"}
		}},
		{"horizon", func(p *domain.BacktestParams) { p.ForecastHorizon = 6 }},
		{"sparsity", func(p *domain.BacktestParams) { p.SparsityFilter = 0.75 }},
		{"diff func", func(p *domain.BacktestParams) { p.DiffFunc = "logret" }},
		{"fundamentals", func(p *domain.BacktestParams) { p.IncludeFundamentals = true }},
		{"start time", func(p *domain.BacktestParams) { p.StartTime = 1 }},
	}

	seen := map[string]string{base: "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			tt.modify(&p)
			id := ComputeRunID(p)
			if prev, ok := seen[id]; ok {
				t.Errorf("id collides with %s", prev)
			}
			seen[id] = tt.name
		})
	}
}

func TestCanonicalParams(t *testing.T) {
	want := "NFLX:NASDAQ,GOOG:NASDAQ|NFLX:NASDAQ|close|3|delta|5|stdev|5|0|0|0.5|3|3|0|false"
	if got := CanonicalParams(baseParams()); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
