package backtest

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/features"
	"market-signal-lab/internal/marketdata"
)

// Default transform names used when BacktestParams leaves them empty.
const (
	DefaultDiffFunc = "delta"
	DefaultVarFunc  = "stdev"
)

// Runner assembles the feature and label series from market-data sources
// and evaluates them with an Engine.
type Runner struct {
	prices       marketdata.PriceSource
	fundamentals marketdata.FundamentalSource
	opts         []Option
	parallelism  int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFundamentals sets the source merged in when IncludeFundamentals is set.
func WithFundamentals(src marketdata.FundamentalSource) RunnerOption {
	return func(r *Runner) {
		r.fundamentals = src
	}
}

// WithEngineOptions passes options through to every Engine the runner builds.
func WithEngineOptions(opts ...Option) RunnerOption {
	return func(r *Runner) {
		r.opts = append(r.opts, opts...)
	}
}

// WithParallelism bounds concurrent price fetches.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		r.parallelism = n
	}
}

// NewRunner creates a new backtest runner.
func NewRunner(prices marketdata.PriceSource, opts ...RunnerOption) *Runner {
	r := &Runner{prices: prices}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches every symbol, engineers features, extracts the label series
// for the target and returns the lazy step sequence. Fetch failures are
// returned here; iterating the sequence never fails.
func (r *Runner) Run(ctx context.Context, runID string, params domain.BacktestParams) (iter.Seq[domain.StepResult], error) {
	ts, labels, err := r.Prepare(ctx, params)
	if err != nil {
		return nil, err
	}
	engine, err := NewEngine(ConfigFromParams(runID, params), r.opts...)
	if err != nil {
		return nil, err
	}
	return engine.Steps(ts, labels), nil
}

// Prepare builds the feature series and the label series for params.
func (r *Runner) Prepare(ctx context.Context, params domain.BacktestParams) (*domain.TimeSeries, *domain.TimeSeries, error) {
	if err := ValidateParams(params); err != nil {
		return nil, nil, err
	}
	diffFn, varFn, err := transforms(params)
	if err != nil {
		return nil, nil, err
	}

	symbols := slices.Clone(params.Symbols)
	if !slices.Contains(symbols, params.TargetSymbol) {
		symbols = append(symbols, params.TargetSymbol)
	}

	ts, err := features.BuildSymbolSeries(ctx, r.prices, symbols, features.SymbolSeriesConfig{
		DiffWindow:  params.DiffWindow,
		DiffFn:      diffFn,
		VarWindow:   params.VarWindow,
		VarFn:       varFn,
		Parallelism: r.parallelism,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build symbol series: %w", err)
	}

	if params.IncludeFundamentals && r.fundamentals != nil {
		fund, err := r.fundamentals.FetchFundamentalSeries(ctx, symbols)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch fundamentals: %w", err)
		}
		ts = domain.MergeSeries(ts, fund)
	}

	if params.StartTime > 0 {
		ts = domain.SelectRows(ts, func(t domain.Timestamp, _ domain.FeatureRow) bool {
			return t >= params.StartTime
		})
	}

	target := params.TargetSymbol.Feature(params.TargetFeature)
	labels, err := features.ExtractForecastSeries(ts, target, params.ForecastHorizon, diffFn)
	if err != nil {
		return nil, nil, err
	}
	return ts, labels, nil
}

// RunBacktest is the one-call entry point: it runs params against prices
// (and fundamentals, when given) and returns one result per evaluated step.
func RunBacktest(ctx context.Context, prices marketdata.PriceSource, fundamentals marketdata.FundamentalSource, params domain.BacktestParams, opts ...Option) (iter.Seq[domain.StepResult], error) {
	runner := NewRunner(prices, WithFundamentals(fundamentals), WithEngineOptions(opts...))
	return runner.Run(ctx, "", params)
}

// ConfigFromParams maps run parameters onto an engine config.
func ConfigFromParams(runID string, p domain.BacktestParams) Config {
	return Config{
		RunID:            runID,
		ForecastHorizon:  p.ForecastHorizon,
		MinTrainExamples: p.MinTrainExamples,
		SparsityFilter:   p.SparsityFilter,
		TopFeatures:      p.TopFeatures,
		KNearest:         p.KNearest,
		MaxSteps:         p.MaxSteps,
	}
}

// ValidateParams checks the parameters that do not belong to Config.
func ValidateParams(p domain.BacktestParams) error {
	switch {
	case len(p.Symbols) == 0 && p.TargetSymbol == "":
		return fmt.Errorf("%w: no symbols", ErrInvalidConfig)
	case p.TargetSymbol == "":
		return fmt.Errorf("%w: no target symbol", ErrInvalidConfig)
	case p.TargetFeature == "":
		return fmt.Errorf("%w: no target feature", ErrInvalidConfig)
	case p.DiffWindow < 0 || p.VarWindow < 0:
		return fmt.Errorf("%w: negative window", ErrInvalidConfig)
	case p.ForecastHorizon < 1:
		return fmt.Errorf("%w: forecast horizon %d", ErrInvalidConfig, p.ForecastHorizon)
	}
	return ConfigFromParams("", p).Validate()
}

func transforms(p domain.BacktestParams) (features.DiffFunc, features.WindowFunc, error) {
	diffName := p.DiffFunc
	if diffName == "" {
		diffName = DefaultDiffFunc
	}
	varName := p.VarFunc
	if varName == "" {
		varName = DefaultVarFunc
	}
	diffFn, ok := features.DiffFuncByName(diffName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown diff function %q", ErrInvalidConfig, diffName)
	}
	varFn, ok := features.WindowFuncByName(varName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown window function %q", ErrInvalidConfig, varName)
	}
	return diffFn, varFn, nil
}
