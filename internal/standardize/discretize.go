package standardize

import (
	"math"

	"market-signal-lab/internal/domain"
)

// DefaultBuckets is the bucket count used for information-theoretic analysis.
const DefaultBuckets = 100

// stdevRange is the half-width, in standard deviations, of the binned range.
const stdevRange = 3.0

// Discretize maps a standardized value to a bucket in [0, numBuckets-1]:
// floor(numBuckets * (3 + v/3) / 6), clamped. Values outside the range
// saturate to the extreme buckets.
func Discretize(v float64, numBuckets int) int {
	bucket := int(math.Floor(float64(numBuckets) * (stdevRange + v/stdevRange) / (stdevRange * 2)))
	return max(0, min(numBuckets-1, bucket))
}

// DiscretizeSeries replaces every present value of ts with its bucket index.
// Missing values stay missing.
func DiscretizeSeries(ts *domain.TimeSeries, numBuckets int) *domain.TimeSeries {
	b := domain.NewSeriesBuilder()
	ts.Scan(func(t domain.Timestamp, row domain.FeatureRow) bool {
		b.Touch(t)
		for name, v := range row {
			b.Set(t, name, float64(Discretize(v, numBuckets)))
		}
		return true
	})
	return b.Build()
}
