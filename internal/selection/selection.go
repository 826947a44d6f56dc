// Package selection ranks features by their mutual information with a
// single-feature target and keeps the top-ranked ones.
package selection

import (
	"math"
	"sort"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/standardize"
)

// FeatureScore is one feature's mutual information with the target, in bits.
type FeatureScore struct {
	Name string
	MI   float64
}

// BucketPair is one jointly observed (feature bucket, target bucket) pair.
type BucketPair struct {
	Feature int
	Target  int
}

// Rank discretizes ts and target (both already standardized) and scores
// every feature of ts against the first feature of target. Scores are
// sorted by descending MI, ties by ascending name.
//
// Probabilities are taken over the rows where both the feature and the
// target are present, and the sum is weighted by the share of rows of ts
// that are jointly observed. A feature that never co-occurs with the target
// scores zero. Marginals come from the jointly observed pairs too, not from
// each variable's own present rows over all N rows, which keeps every score
// non-negative.
func Rank(ts, target *domain.TimeSeries) []FeatureScore {
	names := ts.FeatureNames()
	scores := make([]FeatureScore, 0, len(names))

	targetNames := target.FeatureNames()
	n := ts.Len()
	if len(targetNames) == 0 || n == 0 {
		for _, name := range names {
			scores = append(scores, FeatureScore{Name: name})
		}
		return scores
	}
	targetName := targetNames[0]

	disc := standardize.DiscretizeSeries(ts, standardize.DefaultBuckets)
	discTarget := standardize.DiscretizeSeries(target, standardize.DefaultBuckets)

	for _, name := range names {
		var pairs []BucketPair
		disc.Scan(func(t domain.Timestamp, row domain.FeatureRow) bool {
			fv, ok := row[name]
			if !ok {
				return true
			}
			tv, ok := discTarget.Value(t, targetName)
			if !ok {
				return true
			}
			pairs = append(pairs, BucketPair{Feature: int(fv), Target: int(tv)})
			return true
		})
		scores = append(scores, FeatureScore{Name: name, MI: MutualInformation(pairs, n)})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].MI != scores[j].MI {
			return scores[i].MI > scores[j].MI
		}
		return scores[i].Name < scores[j].Name
	})
	return scores
}

// MutualInformation returns the empirical mutual information, in bits, of
// jointly observed bucket pairs, weighted by len(pairs)/total. total is the
// row count of the series the pairs were drawn from and is clamped up to
// len(pairs). The result is never negative.
func MutualInformation(pairs []BucketPair, total int) float64 {
	a := len(pairs)
	if a == 0 {
		return 0
	}
	total = max(total, a)

	joint := make(map[BucketPair]int, a)
	featureCounts := make(map[int]int)
	targetCounts := make(map[int]int)
	for _, p := range pairs {
		joint[p]++
		featureCounts[p.Feature]++
		targetCounts[p.Target]++
	}

	keys := make([]BucketPair, 0, len(joint))
	for p := range joint {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Feature != keys[j].Feature {
			return keys[i].Feature < keys[j].Feature
		}
		return keys[i].Target < keys[j].Target
	})

	var mi float64
	for _, p := range keys {
		c := float64(joint[p])
		ratio := c * float64(a) / (float64(featureCounts[p.Feature]) * float64(targetCounts[p.Target]))
		mi += c / float64(total) * math.Log2(ratio)
	}
	return max(mi, 0)
}

// SelectTopK returns ts restricted to its k highest-ranked features against
// target. Every row is kept, possibly empty. k <= 0 selects no features.
func SelectTopK(ts, target *domain.TimeSeries, k int) *domain.TimeSeries {
	return Select(ts, TopK(Rank(ts, target), k))
}

// TopK returns the names of the first k scores.
func TopK(scores []FeatureScore, k int) []string {
	k = max(0, min(k, len(scores)))
	out := make([]string, k)
	for i := range k {
		out[i] = scores[i].Name
	}
	return out
}

// Select returns ts restricted to the named features.
func Select(ts *domain.TimeSeries, names []string) *domain.TimeSeries {
	keep := make(map[string]struct{}, len(names))
	for _, name := range names {
		keep[name] = struct{}{}
	}
	return domain.SelectFeatures(ts, func(_ domain.Timestamp, name string) bool {
		_, ok := keep[name]
		return ok
	})
}
