package standardize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-lab/internal/domain"
)

func series(rows map[domain.Timestamp]domain.FeatureRow) *domain.TimeSeries {
	b := domain.NewSeriesBuilder()
	for t, row := range rows {
		b.SetRow(t, row)
	}
	return b.Build()
}

func TestStandardize_ZScores(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"a": 1},
		2: {"a": 2},
		3: {"a": 3},
	})
	snap := domain.CloneSeries(ts, "")

	std, dist := Standardize(ts)

	require.Contains(t, dist, "a")
	assert.InDelta(t, 2.0, dist["a"].Mean, 1e-12)
	assert.InDelta(t, 1.0, dist["a"].StdDev, 1e-12)
	assert.Equal(t, 3, dist["a"].Count)

	v, _ := std.Value(1, "a")
	assert.InDelta(t, -1.0, v, 1e-12)
	v, _ = std.Value(3, "a")
	assert.InDelta(t, 1.0, v, 1e-12)

	assert.True(t, ts.Equal(snap))
}

func TestStandardize_MissingStaysMissing(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"a": 1, "b": 10},
		2: {"a": 3},
		3: {"b": 20},
	})

	std, dist := Standardize(ts)

	assert.Equal(t, 2, dist["a"].Count)
	_, ok := std.Value(3, "a")
	assert.False(t, ok)
	_, ok = std.Value(2, "b")
	assert.False(t, ok)
	assert.Equal(t, 3, std.Len(), "rows are preserved even if empty")
}

func TestStandardize_ZeroVarianceBecomesMissing(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"flat": 5, "a": 1},
		2: {"flat": 5, "a": 2},
	})

	std, dist := Standardize(ts)

	assert.True(t, dist["flat"].Degenerate())
	assert.NotContains(t, std.FeatureNames(), "flat")
	for _, v := range std.Values("a") {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestStandardize_SingleValueIsDegenerate(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{1: {"a": 7}})

	std, dist := Standardize(ts)

	assert.Equal(t, 7.0, dist["a"].Mean)
	assert.True(t, dist["a"].Degenerate())
	assert.Empty(t, std.FeatureNames())
}

func TestStandardizeWith_ReusesPriorAndDropsUnknown(t *testing.T) {
	prior := domain.FeatureDistribution{
		"a": {Mean: 10, StdDev: 2, Count: 50},
	}
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"a": 14, "unknown": 3},
		2: {"unknown": 4},
	})

	std := StandardizeWith(ts, prior)

	v, ok := std.Value(1, "a")
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-12, "prior stats are applied unchanged")
	assert.Equal(t, []string{"a"}, std.FeatureNames())
	assert.Equal(t, 2, std.Len())
}

func TestStandardizeWith_EmptyPriorDropsEverything(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{1: {"a": 1}})

	std := StandardizeWith(ts, domain.FeatureDistribution{})

	assert.Empty(t, std.FeatureNames())
}

func TestStandardize_RoundTrip(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"a": 1.5, "b": -20},
		2: {"a": 2.25, "b": 0},
		3: {"a": -4, "b": 13.75},
		4: {"a": 9},
	})

	std, dist := Standardize(ts)
	back := Invert(std, dist)

	ts.Scan(func(t1 domain.Timestamp, row domain.FeatureRow) bool {
		for name, v := range row {
			got, ok := back.Value(t1, name)
			require.True(t, ok, "%s at %d", name, t1)
			assert.InDelta(t, v, got, 1e-9)
		}
		return true
	})
}

func TestDiscretize(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want int
	}{
		{name: "zero is centre", v: 0, want: 50},
		{name: "one sigma", v: 1, want: 55},
		{name: "minus one sigma", v: -1, want: 44},
		{name: "three sigma", v: 3, want: 66},
		{name: "minus three sigma", v: -3, want: 33},
		{name: "upper saturation", v: 1000, want: 99},
		{name: "lower saturation", v: -1000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Discretize(tt.v, DefaultBuckets))
		})
	}
}

func TestDiscretizeSeries_MissingStaysMissing(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"a": 0},
		2: {"b": 1000},
	})

	disc := DiscretizeSeries(ts, DefaultBuckets)

	v, ok := disc.Value(1, "a")
	require.True(t, ok, "a standardized zero is a value, not a missing bucket")
	assert.Equal(t, 50.0, v)
	_, ok = disc.Value(2, "a")
	assert.False(t, ok)
	v, _ = disc.Value(2, "b")
	assert.Equal(t, 99.0, v)
}

func TestRemoveSparseRows(t *testing.T) {
	ts := series(map[domain.Timestamp]domain.FeatureRow{
		1: {"a": 1, "b": 1, "c": 1, "d": 1},
		2: {"a": 1, "b": 1},
		3: {"a": 1},
		4: {},
	})

	assert.Equal(t, []domain.Timestamp{1}, RemoveSparseRows(ts, 1.0).Timestamps())
	assert.Equal(t, []domain.Timestamp{1, 2}, RemoveSparseRows(ts, 0.5).Timestamps())
	assert.Equal(t, ts.Timestamps(), RemoveSparseRows(ts, 0).Timestamps())
}
