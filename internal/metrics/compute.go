// Package metrics summarizes the out-of-sample quality of a backtest run.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"market-signal-lab/internal/domain"
)

// Summary is the evaluation of one run's step results. Error and hit
// statistics are over label-unit values of steps that have both a
// prediction and an actual label. Correlation is over standardized pairs.
type Summary struct {
	RunID     string
	Steps     int // attempted steps
	Predicted int // steps with a prediction
	Pairs     int // steps with a prediction and an actual label

	Correlation  *float64 // nil with fewer than two pairs or zero variance
	MAE          float64
	RMSE         float64
	MedianAbsErr float64
	P90AbsErr    float64
	HitRate      float64 // share of pairs whose signs agree

	MaxConsecutiveMisses int
}

// Summarize computes the evaluation summary of results. Results are sorted
// by Step before order-dependent statistics are computed.
func Summarize(results []*domain.StepResult) *Summary {
	n := len(results)
	if n == 0 {
		return &Summary{}
	}

	sorted := make([]*domain.StepResult, 0, n)
	for _, r := range results {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Step < sorted[j].Step
	})

	s := &Summary{Steps: len(sorted)}
	if len(sorted) > 0 {
		s.RunID = sorted[0].RunID
	}

	var zPred, zAct, pred, act []float64
	for _, r := range sorted {
		if r.Predicted != nil {
			s.Predicted++
		}
		if !r.HasPair() {
			continue
		}
		zPred = append(zPred, *r.Predicted)
		zAct = append(zAct, *r.Actual)
		if r.PredictedValue != nil && r.ActualValue != nil {
			pred = append(pred, *r.PredictedValue)
			act = append(act, *r.ActualValue)
		}
	}
	s.Pairs = len(zPred)
	s.Correlation = correlation(zPred, zAct)

	if len(pred) == 0 {
		return s
	}

	absErr := make([]float64, len(pred))
	hits := make([]bool, len(pred))
	wins := 0
	for i := range pred {
		absErr[i] = math.Abs(pred[i] - act[i])
		hits[i] = sameDirection(pred[i], act[i])
		if hits[i] {
			wins++
		}
	}

	m := float64(len(pred))
	s.MAE = floats.Distance(pred, act, 1) / m
	s.RMSE = floats.Distance(pred, act, 2) / math.Sqrt(m)
	s.HitRate = float64(wins) / m
	s.MaxConsecutiveMisses = maxConsecutiveMisses(hits)

	sort.Float64s(absErr)
	s.MedianAbsErr = computePercentile(absErr, 0.50)
	s.P90AbsErr = computePercentile(absErr, 0.90)

	return s
}

func correlation(x, y []float64) *float64 {
	if len(x) < 2 {
		return nil
	}
	c := stat.Correlation(x, y, nil)
	if !domain.IsFinite(c) {
		return nil
	}
	return &c
}

// sameDirection treats zero as its own direction.
func sameDirection(predicted, actual float64) bool {
	return sign(predicted) == sign(actual)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// maxConsecutiveMisses finds the longest run of wrong-direction predictions.
func maxConsecutiveMisses(hits []bool) int {
	maxStreak := 0
	current := 0
	for _, hit := range hits {
		if hit {
			current = 0
			continue
		}
		current++
		maxStreak = max(maxStreak, current)
	}
	return maxStreak
}
