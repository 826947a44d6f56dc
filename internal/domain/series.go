package domain

import (
	"sort"

	"github.com/tidwall/btree"
)

// Timestamp identifies one observation instant in seconds since the Unix epoch.
type Timestamp int64

// FeatureRow maps feature name to value. An absent key means the feature is
// missing for the row; a present key with value 0 is a real zero.
type FeatureRow map[string]float64

// Get returns the value of a feature and whether it is present.
func (r FeatureRow) Get(name string) (float64, bool) {
	v, ok := r[name]
	return v, ok
}

// Clone returns a copy of the row, optionally prefixing every feature name.
func (r FeatureRow) Clone(prefix string) FeatureRow {
	out := make(FeatureRow, len(r))
	for name, v := range r {
		out[prefix+name] = v
	}
	return out
}

// Names returns the row's feature names sorted ascending.
func (r FeatureRow) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeSeries is an immutable mapping from Timestamp to FeatureRow, always
// traversed in ascending timestamp order. Build one with a SeriesBuilder.
// Rows are shared between series derived from each other and must never be
// modified after Build.
type TimeSeries struct {
	rows *btree.Map[Timestamp, FeatureRow]
}

// EmptySeries returns a series with no rows.
func EmptySeries() *TimeSeries {
	return &TimeSeries{rows: btree.NewMap[Timestamp, FeatureRow](0)}
}

// Len returns the number of rows.
func (ts *TimeSeries) Len() int {
	if ts == nil || ts.rows == nil {
		return 0
	}
	return ts.rows.Len()
}

// Timestamps returns all row timestamps in ascending numeric order.
func (ts *TimeSeries) Timestamps() []Timestamp {
	out := make([]Timestamp, 0, ts.Len())
	ts.Scan(func(t Timestamp, _ FeatureRow) bool {
		out = append(out, t)
		return true
	})
	return out
}

// Has reports whether a row exists at t.
func (ts *TimeSeries) Has(t Timestamp) bool {
	if ts.Len() == 0 {
		return false
	}
	_, ok := ts.rows.Get(t)
	return ok
}

// Row returns a copy of the row at t.
func (ts *TimeSeries) Row(t Timestamp) (FeatureRow, bool) {
	if ts.Len() == 0 {
		return nil, false
	}
	row, ok := ts.rows.Get(t)
	if !ok {
		return nil, false
	}
	return row.Clone(""), true
}

// Value returns the value of a feature at t and whether it is present.
func (ts *TimeSeries) Value(t Timestamp, name string) (float64, bool) {
	if ts.Len() == 0 {
		return 0, false
	}
	row, ok := ts.rows.Get(t)
	if !ok {
		return 0, false
	}
	return row.Get(name)
}

// Scan calls fn for each row in ascending timestamp order until fn returns
// false. The row passed to fn is shared and must not be modified.
func (ts *TimeSeries) Scan(fn func(t Timestamp, row FeatureRow) bool) {
	if ts.Len() == 0 {
		return
	}
	ts.rows.Scan(fn)
}

// FeatureNames returns the sorted union of feature names across all rows.
func (ts *TimeSeries) FeatureNames() []string {
	seen := make(map[string]struct{})
	ts.Scan(func(_ Timestamp, row FeatureRow) bool {
		for name := range row {
			seen[name] = struct{}{}
		}
		return true
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dimensionality returns the number of distinct feature names.
func (ts *TimeSeries) Dimensionality() int {
	return len(ts.FeatureNames())
}

// Values returns the present values of a feature in ascending timestamp order.
func (ts *TimeSeries) Values(name string) []float64 {
	var out []float64
	ts.Scan(func(_ Timestamp, row FeatureRow) bool {
		if v, ok := row[name]; ok {
			out = append(out, v)
		}
		return true
	})
	return out
}

// Equal reports whether two series hold the same rows and values.
func (ts *TimeSeries) Equal(other *TimeSeries) bool {
	if ts.Len() != other.Len() {
		return false
	}
	equal := true
	ts.Scan(func(t Timestamp, row FeatureRow) bool {
		otherRow, ok := other.rows.Get(t)
		if !ok || len(otherRow) != len(row) {
			equal = false
			return false
		}
		for name, v := range row {
			if ov, ok := otherRow[name]; !ok || ov != v {
				equal = false
				return false
			}
		}
		return true
	})
	return equal
}

// SeriesBuilder accumulates rows for a new TimeSeries.
// A builder must not be used after Build.
type SeriesBuilder struct {
	rows *btree.Map[Timestamp, FeatureRow]
}

// NewSeriesBuilder creates an empty builder.
func NewSeriesBuilder() *SeriesBuilder {
	return &SeriesBuilder{rows: btree.NewMap[Timestamp, FeatureRow](0)}
}

// Touch ensures a (possibly empty) row exists at t.
func (b *SeriesBuilder) Touch(t Timestamp) {
	if _, ok := b.rows.Get(t); !ok {
		b.rows.Set(t, FeatureRow{})
	}
}

// Set stores one feature value at t, creating the row if needed.
func (b *SeriesBuilder) Set(t Timestamp, name string, v float64) {
	row, ok := b.rows.Get(t)
	if !ok {
		row = FeatureRow{}
		b.rows.Set(t, row)
	}
	row[name] = v
}

// SetRow replaces the row at t with a copy of row.
func (b *SeriesBuilder) SetRow(t Timestamp, row FeatureRow) {
	b.rows.Set(t, row.Clone(""))
}

// Merge copies every feature of row into the row at t, overriding collisions.
func (b *SeriesBuilder) Merge(t Timestamp, row FeatureRow) {
	b.Touch(t)
	for name, v := range row {
		b.Set(t, name, v)
	}
}

// Build returns the accumulated series.
func (b *SeriesBuilder) Build() *TimeSeries {
	ts := &TimeSeries{rows: b.rows}
	b.rows = nil
	return ts
}

// shareRow stores row without copying. Only used for rows that are already
// owned by an immutable series.
func (b *SeriesBuilder) shareRow(t Timestamp, row FeatureRow) {
	b.rows.Set(t, row)
}
