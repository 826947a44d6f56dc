// Package knn predicts a label as the mean of the labels at the training
// rows most cosine-similar to a query row.
package knn

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"market-signal-lab/internal/domain"
)

// Neighbor is one training row matched against a query.
type Neighbor struct {
	Timestamp  domain.Timestamp
	Similarity float64
}

// Prediction is the mean label over the neighbors that had one.
type Prediction struct {
	Value     float64
	Neighbors int // neighbors with a label, at most k
}

// Similarity returns the cosine similarity of a and b over names, treating
// a missing value as 0. A zero-magnitude vector has similarity 0.
func Similarity(names []string, a, b domain.FeatureRow) float64 {
	av := make([]float64, len(names))
	bv := make([]float64, len(names))
	for i, name := range names {
		av[i] = a[name]
		bv[i] = b[name]
	}
	denom := floats.Norm(av, 2) * floats.Norm(bv, 2)
	if denom == 0 {
		return 0
	}
	sim := floats.Dot(av, bv) / denom
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// Nearest returns the k rows of ts most similar to query, by similarity
// descending then timestamp ascending. Fewer than k are returned when ts is
// shorter.
func Nearest(ts *domain.TimeSeries, query domain.FeatureRow, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	names := ts.FeatureNames()
	all := make([]Neighbor, 0, ts.Len())
	ts.Scan(func(t domain.Timestamp, row domain.FeatureRow) bool {
		all = append(all, Neighbor{Timestamp: t, Similarity: Similarity(names, query, row)})
		return true
	})
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Similarity != all[j].Similarity {
			return all[i].Similarity > all[j].Similarity
		}
		return all[i].Timestamp < all[j].Timestamp
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Predict averages the first feature of targetTs over the k nearest rows of
// ts that have a label. It reports false when none of them does.
func Predict(ts, targetTs *domain.TimeSeries, query domain.FeatureRow, k int) (Prediction, bool) {
	names := targetTs.FeatureNames()
	if len(names) == 0 {
		return Prediction{}, false
	}
	label := names[0]

	var sum float64
	var found int
	for _, n := range Nearest(ts, query, k) {
		if v, ok := targetTs.Value(n.Timestamp, label); ok {
			sum += v
			found++
		}
	}
	if found == 0 {
		return Prediction{}, false
	}
	return Prediction{Value: sum / float64(found), Neighbors: found}, true
}
