// Package standardize z-scores feature series, quantizes standardized values
// into fixed buckets and filters sparse rows.
package standardize

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"market-signal-lab/internal/domain"
)

// Estimate computes mean and sample standard deviation of every feature
// over its present values. A feature with fewer than two present values
// gets a zero standard deviation.
func Estimate(ts *domain.TimeSeries) domain.FeatureDistribution {
	dist := make(domain.FeatureDistribution)
	for _, name := range ts.FeatureNames() {
		xs := ts.Values(name)
		s := domain.FeatureStats{Count: len(xs)}
		switch {
		case len(xs) == 1:
			s.Mean = xs[0]
		case len(xs) > 1:
			s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
		}
		dist[name] = s
	}
	return dist
}

// Standardize estimates a fresh distribution from ts and replaces every
// present value with (v - mean) / stdev. Features whose stats are degenerate
// become missing. The returned distribution is the one that was applied.
func Standardize(ts *domain.TimeSeries) (*domain.TimeSeries, domain.FeatureDistribution) {
	dist := Estimate(ts)
	return apply(ts, dist), dist
}

// StandardizeWith standardizes ts with a prior distribution, typically the
// one estimated on the paired training series. The prior is never
// re-estimated; features of ts absent from the prior are dropped, so the
// output never carries a feature the prior did not know.
func StandardizeWith(ts *domain.TimeSeries, prior domain.FeatureDistribution) *domain.TimeSeries {
	return apply(ts, prior)
}

func apply(ts *domain.TimeSeries, dist domain.FeatureDistribution) *domain.TimeSeries {
	b := domain.NewSeriesBuilder()
	ts.Scan(func(t domain.Timestamp, row domain.FeatureRow) bool {
		b.Touch(t)
		for name, v := range row {
			s, ok := dist[name]
			if !ok || s.Degenerate() {
				continue
			}
			if z := (v - s.Mean) / s.StdDev; domain.IsFinite(z) {
				b.Set(t, name, z)
			}
		}
		return true
	})
	return b.Build()
}

// Invert maps standardized values back to original units with v*stdev+mean.
func Invert(ts *domain.TimeSeries, dist domain.FeatureDistribution) *domain.TimeSeries {
	b := domain.NewSeriesBuilder()
	ts.Scan(func(t domain.Timestamp, row domain.FeatureRow) bool {
		b.Touch(t)
		for name, z := range row {
			if s, ok := dist[name]; ok {
				b.Set(t, name, InvertValue(z, s))
			}
		}
		return true
	})
	return b.Build()
}

// InvertValue maps one standardized value back to original units.
func InvertValue(z float64, s domain.FeatureStats) float64 {
	return z*s.StdDev + s.Mean
}

// RemoveSparseRows keeps rows whose present-feature count is at least
// round(dimensionality * fraction), where dimensionality is the number of
// distinct features across ts.
func RemoveSparseRows(ts *domain.TimeSeries, fraction float64) *domain.TimeSeries {
	minDims := int(math.Round(float64(ts.Dimensionality()) * fraction))
	return domain.SelectRows(ts, func(_ domain.Timestamp, row domain.FeatureRow) bool {
		return len(row) >= minDims
	})
}
