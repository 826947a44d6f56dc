package features

import (
	"fmt"

	"market-signal-lab/internal/domain"
)

// ExtractForecastSeries builds the label series for name: every timestamp
// t1 that has a row horizon positions later, t2, gets a row keyed at t1
// whose only feature is fn(ts[t1][name], ts[t2][name]) under
// ForecastFeatureName(name, horizon). The label at t1 is only knowable at
// t2 and must never be used as an input at or before t1.
//
// Rows where either endpoint is missing, or fn yields no finite value, are
// kept as empty rows so the label series stays aligned with ts.
func ExtractForecastSeries(ts *domain.TimeSeries, name string, horizon int, fn DiffFunc) (*domain.TimeSeries, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon %d", ErrInvalidWindow, horizon)
	}
	featureName := ForecastFeatureName(name, horizon)
	times := ts.Timestamps()

	b := domain.NewSeriesBuilder()
	for i := 0; i+horizon < len(times); i++ {
		t1, t2 := times[i], times[i+horizon]
		b.Touch(t1)
		v1, ok1 := ts.Value(t1, name)
		v2, ok2 := ts.Value(t2, name)
		if !ok1 || !ok2 {
			continue
		}
		if d, ok := fn(v1, v2); ok && domain.IsFinite(d) {
			b.Set(t1, featureName, d)
		}
	}
	return b.Build(), nil
}
