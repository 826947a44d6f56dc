package domain

import "sort"

// FeatureStats holds the location and scale of one feature.
type FeatureStats struct {
	Mean   float64
	StdDev float64 // sample standard deviation (n-1)
	Count  int     // number of present values the stats were estimated from
}

// Degenerate reports whether the stats cannot scale a value, i.e. the
// standard deviation is zero or not finite.
func (s FeatureStats) Degenerate() bool {
	return s.StdDev == 0 || !IsFinite(s.StdDev) || !IsFinite(s.Mean)
}

// FeatureDistribution maps feature name to the stats estimated for it.
// It is computed from one series and threaded explicitly into the
// standardization of another.
type FeatureDistribution map[string]FeatureStats

// Names returns the distribution's feature names sorted ascending.
func (d FeatureDistribution) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
