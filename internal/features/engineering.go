// Package features derives lag-difference and rolling-window features from
// raw per-symbol series and extracts forward-looking forecast labels.
package features

import (
	"errors"
	"fmt"

	"market-signal-lab/internal/domain"
)

// ErrInvalidWindow is returned when a lag, window or horizon is not positive.
var ErrInvalidWindow = errors.New("window must be positive")

// DiffFunc compares a feature's earlier value v1 with its later value v2.
// The bool result reports whether the comparison produced a value.
type DiffFunc func(v1, v2 float64) (float64, bool)

// WindowFunc summarizes a trailing window of values in ascending time order.
// A nil element is a missing value.
type WindowFunc func(values []*float64) (float64, bool)

// DiffFeatureName names the lag-difference feature of name at lag.
func DiffFeatureName(name string, lag int) string {
	return fmt.Sprintf("%s(-%d diff)", name, lag)
}

// VarFeatureName names the rolling-window feature of name over window.
func VarFeatureName(name string, window int) string {
	return fmt.Sprintf("%s(-%d var)", name, window)
}

// ForecastFeatureName names the forward label of name at horizon.
func ForecastFeatureName(name string, horizon int) string {
	return fmt.Sprintf("%s(+%d fwd)", name, horizon)
}

// AddDiffFeatures returns a copy of ts where every row t2 that is lag
// positions after a row t1 carries fn(ts[t1][name], ts[t2][name]) under
// DiffFeatureName(name, lag). Rows missing either endpoint, or where fn
// yields no finite value, get no such feature.
func AddDiffFeatures(ts *domain.TimeSeries, name string, lag int, fn DiffFunc) (*domain.TimeSeries, error) {
	if lag < 1 {
		return nil, fmt.Errorf("%w: lag %d", ErrInvalidWindow, lag)
	}
	b := domain.NewSeriesBuilder()
	copyRows(b, ts)
	addDiff(b, ts, ts.Timestamps(), name, lag, fn)
	return b.Build(), nil
}

// AddVarFeatures returns a copy of ts where every row with at least window
// prior rows carries fn over the window+1 trailing values of name under
// VarFeatureName(name, window). Missing values reach fn as nil.
func AddVarFeatures(ts *domain.TimeSeries, name string, window int, fn WindowFunc) (*domain.TimeSeries, error) {
	if window < 1 {
		return nil, fmt.Errorf("%w: window %d", ErrInvalidWindow, window)
	}
	b := domain.NewSeriesBuilder()
	copyRows(b, ts)
	addVar(b, ts, ts.Timestamps(), name, window, fn)
	return b.Build(), nil
}

func copyRows(b *domain.SeriesBuilder, ts *domain.TimeSeries) {
	ts.Scan(func(t domain.Timestamp, row domain.FeatureRow) bool {
		b.SetRow(t, row)
		return true
	})
}

func addDiff(b *domain.SeriesBuilder, ts *domain.TimeSeries, times []domain.Timestamp, name string, lag int, fn DiffFunc) {
	featureName := DiffFeatureName(name, lag)
	for i := lag; i < len(times); i++ {
		t1, t2 := times[i-lag], times[i]
		v1, ok1 := ts.Value(t1, name)
		v2, ok2 := ts.Value(t2, name)
		if !ok1 || !ok2 {
			continue
		}
		if d, ok := fn(v1, v2); ok && domain.IsFinite(d) {
			b.Set(t2, featureName, d)
		}
	}
}

func addVar(b *domain.SeriesBuilder, ts *domain.TimeSeries, times []domain.Timestamp, name string, window int, fn WindowFunc) {
	featureName := VarFeatureName(name, window)
	for i := window; i < len(times); i++ {
		values := make([]*float64, 0, window+1)
		for j := i - window; j <= i; j++ {
			if v, ok := ts.Value(times[j], name); ok {
				values = append(values, &v)
			} else {
				values = append(values, nil)
			}
		}
		if s, ok := fn(values); ok && domain.IsFinite(s) {
			b.Set(times[i], featureName, s)
		}
	}
}

// Engineer adds, for every base feature of raw, lag-difference features for
// lags 1..diffWindow and rolling-window features for windows 1..varWindow.
// Derived features are always computed from the base feature, never from
// other derived features. A zero window disables that family.
func Engineer(raw *domain.TimeSeries, diffWindow int, diffFn DiffFunc, varWindow int, varFn WindowFunc) (*domain.TimeSeries, error) {
	if diffWindow < 0 || varWindow < 0 {
		return nil, fmt.Errorf("%w: diff %d var %d", ErrInvalidWindow, diffWindow, varWindow)
	}
	if (diffWindow > 0 && diffFn == nil) || (varWindow > 0 && varFn == nil) {
		return nil, errors.New("engineer: missing transform function")
	}

	b := domain.NewSeriesBuilder()
	copyRows(b, raw)
	times := raw.Timestamps()
	for _, name := range raw.FeatureNames() {
		for lag := 1; lag <= diffWindow; lag++ {
			addDiff(b, raw, times, name, lag, diffFn)
		}
		for window := 1; window <= varWindow; window++ {
			addVar(b, raw, times, name, window, varFn)
		}
	}
	return b.Build(), nil
}
