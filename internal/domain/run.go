package domain

import "time"

// BacktestParams are the parameters that identify one backtest run.
type BacktestParams struct {
	Symbols             []Symbol
	TargetSymbol        Symbol
	TargetFeature       string // base feature of the target symbol, e.g. "close"
	DiffWindow          int
	DiffFunc            string // "delta", "logret" or "diff"; also used for the label
	VarWindow           int
	VarFunc             string // "stdev" or "mean"
	ForecastHorizon     int
	StartTime           Timestamp
	MinTrainExamples    int
	SparsityFilter      float64
	TopFeatures         int
	KNearest            int
	MaxSteps            int
	IncludeFundamentals bool
}

// BacktestRun records one executed backtest.
type BacktestRun struct {
	RunID     string
	Params    BacktestParams
	CreatedAt time.Time
}

// StepResult is the outcome of one walk-forward step. Predicted and Actual
// are in standardized label units; PredictedValue and ActualValue are in the
// label's original units. Nil means the value is absent for the step.
type StepResult struct {
	RunID            string
	Step             int       // 1-based index of the attempted test step
	Now              Timestamp // last timestamp of the training slice
	Timestamp        Timestamp // the out-of-sample timestamp being predicted
	Predicted        *float64
	Actual           *float64
	PredictedValue   *float64
	ActualValue      *float64
	Correlation      *float64 // running Pearson correlation as of this step
	Pairs            int      // accumulated (predicted, actual) pairs
	TrainSize        int
	Neighbors        int
	SelectedFeatures []string
}

// HasPair reports whether the step contributed to the correlation.
func (r *StepResult) HasPair() bool {
	return r.Predicted != nil && r.Actual != nil
}
