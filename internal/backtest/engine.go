// Package backtest runs the expanding-window walk-forward evaluation: at
// each step it fits standardization, sparsity filtering and feature
// selection on the history up to "now", then predicts the single next
// timestamp with k nearest neighbours.
package backtest

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"gonum.org/v1/gonum/stat"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/knn"
	"market-signal-lab/internal/selection"
	"market-signal-lab/internal/standardize"
)

// ErrInvalidConfig is returned for out-of-range backtest parameters.
var ErrInvalidConfig = errors.New("invalid backtest config")

// Config parameterizes one walk-forward evaluation.
type Config struct {
	RunID string

	// ForecastHorizon is the label horizon in rows. Training labels at "now"
	// are limited to those whose forward endpoint is at or before "now".
	// Zero disables the embargo.
	ForecastHorizon int

	MinTrainExamples int
	SparsityFilter   float64
	TopFeatures      int
	KNearest         int
	MaxSteps         int // attempted test steps; 0 means unlimited
}

// Validate checks the parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.ForecastHorizon < 0:
		return fmt.Errorf("%w: forecast horizon %d", ErrInvalidConfig, c.ForecastHorizon)
	case c.MinTrainExamples < 1:
		return fmt.Errorf("%w: min train examples %d", ErrInvalidConfig, c.MinTrainExamples)
	case c.SparsityFilter < 0 || c.SparsityFilter > 1:
		return fmt.Errorf("%w: sparsity filter %v", ErrInvalidConfig, c.SparsityFilter)
	case c.TopFeatures < 1:
		return fmt.Errorf("%w: top features %d", ErrInvalidConfig, c.TopFeatures)
	case c.KNearest < 1:
		return fmt.Errorf("%w: k nearest %d", ErrInvalidConfig, c.KNearest)
	case c.MaxSteps < 0:
		return fmt.Errorf("%w: max steps %d", ErrInvalidConfig, c.MaxSteps)
	}
	return nil
}

// StepObserver is notified of every emitted step, in order.
type StepObserver interface {
	ObserveStep(r domain.StepResult)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers a step observer.
func WithObserver(o StepObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine evaluates a feature series against a label series.
// It holds no per-run state and may be reused.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	observer StepObserver
}

// NewEngine creates an engine after validating cfg.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Steps returns the lazy sequence of step results for ts and its label
// series, in ascending timestamp order. Every iteration of the sequence
// starts a fresh evaluation.
func (e *Engine) Steps(ts, labels *domain.TimeSeries) iter.Seq[domain.StepResult] {
	return func(yield func(domain.StepResult) bool) {
		times := ts.Timestamps()
		labelName := ""
		if names := labels.FeatureNames(); len(names) > 0 {
			labelName = names[0]
		}

		acc := &accumulator{}
		step := 0
		for i, now := range times {
			if i+1 < e.cfg.MinTrainExamples {
				e.logger.Debug("insufficient history",
					slog.Int64("now", int64(now)),
					slog.Int("train_rows", i+1))
				continue
			}
			if i+1 >= len(times) {
				break
			}
			step++

			r := e.evaluate(ts, labels, labelName, times, i)
			r.Step = step
			acc.add(&r)

			e.logger.Debug("step evaluated",
				slog.Int("step", r.Step),
				slog.Int64("timestamp", int64(r.Timestamp)),
				slog.Int("train_size", r.TrainSize),
				slog.Int("neighbors", r.Neighbors),
				slog.Bool("predicted", r.Predicted != nil))
			if e.observer != nil {
				e.observer.ObserveStep(r)
			}
			if !yield(r) {
				return
			}
			if e.cfg.MaxSteps > 0 && step >= e.cfg.MaxSteps {
				break
			}
		}

		attrs := []any{slog.String("run_id", e.cfg.RunID), slog.Int("steps", step), slog.Int("pairs", acc.pairs())}
		if c := acc.correlation(); c != nil {
			attrs = append(attrs, slog.Float64("correlation", *c))
		}
		e.logger.Info("backtest finished", attrs...)
	}
}

// evaluate trains on times[:i+1] and predicts times[i+1].
func (e *Engine) evaluate(ts, labels *domain.TimeSeries, labelName string, times []domain.Timestamp, i int) domain.StepResult {
	now, next := times[i], times[i+1]
	r := domain.StepResult{
		RunID:     e.cfg.RunID,
		Now:       now,
		Timestamp: next,
	}

	train := domain.RowsAtOrBefore(ts, now)
	trainLabels := domain.EmptySeries()
	if j := i - e.cfg.ForecastHorizon; j >= 0 {
		trainLabels = domain.RowsAtOrBefore(labels, times[j])
	}

	stdTrain, trainDist := standardize.Standardize(train)
	stdLabels, labelDist := standardize.Standardize(trainLabels)
	stdTrain = standardize.RemoveSparseRows(stdTrain, e.cfg.SparsityFilter)

	selected := selection.TopK(selection.Rank(stdTrain, stdLabels), e.cfg.TopFeatures)
	stdTrain = selection.Select(stdTrain, selected)
	r.SelectedFeatures = selected
	r.TrainSize = stdTrain.Len()

	test := selection.Select(standardize.StandardizeWith(rowAt(ts, next), trainDist), selected)
	testLabel := standardize.StandardizeWith(rowAt(labels, next), labelDist)

	if v, ok := labels.Value(next, labelName); ok {
		r.ActualValue = &v
	}
	if v, ok := testLabel.Value(next, labelName); ok {
		r.Actual = &v
	}

	query, _ := test.Row(next)
	if !informative(query) {
		// every neighbour would tie at similarity 0
		return r
	}
	if pred, ok := knn.Predict(stdTrain, stdLabels, query, e.cfg.KNearest); ok {
		v := pred.Value
		r.Predicted = &v
		r.Neighbors = pred.Neighbors
		if s, ok := labelDist[labelName]; ok {
			pv := standardize.InvertValue(v, s)
			r.PredictedValue = &pv
		}
	}
	return r
}

// informative reports whether query has a non-zero value to compare on.
func informative(query domain.FeatureRow) bool {
	for _, v := range query {
		if v != 0 {
			return true
		}
	}
	return false
}

func rowAt(ts *domain.TimeSeries, t domain.Timestamp) *domain.TimeSeries {
	return domain.SelectRows(ts, func(rt domain.Timestamp, _ domain.FeatureRow) bool { return rt == t })
}

// accumulator tracks (predicted, actual) pairs for the running correlation.
type accumulator struct {
	predicted []float64
	actual    []float64
}

func (a *accumulator) add(r *domain.StepResult) {
	if r.HasPair() {
		a.predicted = append(a.predicted, *r.Predicted)
		a.actual = append(a.actual, *r.Actual)
	}
	r.Pairs = a.pairs()
	r.Correlation = a.correlation()
}

func (a *accumulator) pairs() int {
	return len(a.predicted)
}

// correlation is nil until two pairs exist or while either side is constant.
func (a *accumulator) correlation() *float64 {
	if len(a.predicted) < 2 {
		return nil
	}
	c := stat.Correlation(a.predicted, a.actual, nil)
	if !domain.IsFinite(c) {
		return nil
	}
	return &c
}
