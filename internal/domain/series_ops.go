package domain

import "math"

// RowPredicate decides whether a row is kept.
type RowPredicate func(t Timestamp, row FeatureRow) bool

// FeaturePredicate decides whether a feature is kept in a row.
type FeaturePredicate func(t Timestamp, name string) bool

// ValueFunc maps a feature value. The bool result reports whether the mapped
// value is present; returning false drops the feature from the row.
type ValueFunc func(t Timestamp, v float64, ok bool) (float64, bool)

// CloneSeries deep-copies ts, prefixing every feature name with prefix.
func CloneSeries(ts *TimeSeries, prefix string) *TimeSeries {
	b := NewSeriesBuilder()
	ts.Scan(func(t Timestamp, row FeatureRow) bool {
		b.shareRow(t, row.Clone(prefix))
		return true
	})
	return b.Build()
}

// MergeSeries returns the union of both series' rows. At a shared timestamp
// features from ts2 override features from ts1 with the same name.
func MergeSeries(ts1, ts2 *TimeSeries) *TimeSeries {
	b := NewSeriesBuilder()
	ts1.Scan(func(t Timestamp, row FeatureRow) bool {
		b.shareRow(t, row)
		return true
	})
	ts2.Scan(func(t Timestamp, row FeatureRow) bool {
		existing, ok := b.rows.Get(t)
		if !ok {
			b.shareRow(t, row)
			return true
		}
		merged := existing.Clone("")
		for name, v := range row {
			merged[name] = v
		}
		b.shareRow(t, merged)
		return true
	})
	return b.Build()
}

// SelectRows returns the rows of ts for which keep returns true.
func SelectRows(ts *TimeSeries, keep RowPredicate) *TimeSeries {
	b := NewSeriesBuilder()
	ts.Scan(func(t Timestamp, row FeatureRow) bool {
		if keep(t, row) {
			b.shareRow(t, row)
		}
		return true
	})
	return b.Build()
}

// SelectFeatures returns ts with only the features for which keep returns
// true. Every row is kept, possibly empty.
func SelectFeatures(ts *TimeSeries, keep FeaturePredicate) *TimeSeries {
	b := NewSeriesBuilder()
	ts.Scan(func(t Timestamp, row FeatureRow) bool {
		out := make(FeatureRow, len(row))
		for name, v := range row {
			if keep(t, name) {
				out[name] = v
			}
		}
		b.shareRow(t, out)
		return true
	})
	return b.Build()
}

// MapFeatureValues replaces one feature's value in every row with fn's
// result. fn also sees rows where the feature is missing. A non-present,
// NaN or infinite result removes the feature from that row.
func MapFeatureValues(ts *TimeSeries, name string, fn ValueFunc) *TimeSeries {
	b := NewSeriesBuilder()
	ts.Scan(func(t Timestamp, row FeatureRow) bool {
		v, ok := row[name]
		mapped, present := fn(t, v, ok)
		out := row.Clone("")
		if present && IsFinite(mapped) {
			out[name] = mapped
		} else {
			delete(out, name)
		}
		b.shareRow(t, out)
		return true
	})
	return b.Build()
}

// RowsAtOrBefore returns the rows with timestamp <= t.
func RowsAtOrBefore(ts *TimeSeries, t Timestamp) *TimeSeries {
	return SelectRows(ts, func(rt Timestamp, _ FeatureRow) bool { return rt <= t })
}

// RowsAfter returns the rows with timestamp > t.
func RowsAfter(ts *TimeSeries, t Timestamp) *TimeSeries {
	return SelectRows(ts, func(rt Timestamp, _ FeatureRow) bool { return rt > t })
}

// RowsIn returns the rows whose timestamp is in set.
func RowsIn(ts *TimeSeries, set map[Timestamp]struct{}) *TimeSeries {
	return SelectRows(ts, func(t Timestamp, _ FeatureRow) bool {
		_, ok := set[t]
		return ok
	})
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
