package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Delta is the relative change (v2-v1)/v1.
func Delta(v1, v2 float64) (float64, bool) {
	if v1 == 0 {
		return 0, false
	}
	return (v2 - v1) / v1, true
}

// LogReturn is ln(v2/v1).
func LogReturn(v1, v2 float64) (float64, bool) {
	if v1 <= 0 || v2 <= 0 {
		return 0, false
	}
	return math.Log(v2 / v1), true
}

// Difference is v2-v1.
func Difference(v1, v2 float64) (float64, bool) {
	return v2 - v1, true
}

// StdDev is the sample standard deviation of the present window values.
// At least two present values are required.
func StdDev(values []*float64) (float64, bool) {
	xs := present(values)
	if len(xs) < 2 {
		return 0, false
	}
	return stat.StdDev(xs, nil), true
}

// Mean is the mean of the present window values.
func Mean(values []*float64) (float64, bool) {
	xs := present(values)
	if len(xs) == 0 {
		return 0, false
	}
	return stat.Mean(xs, nil), true
}

func present(values []*float64) []float64 {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil && !math.IsNaN(*v) {
			xs = append(xs, *v)
		}
	}
	return xs
}

// DiffFuncByName resolves a built-in DiffFunc: delta, logret or diff.
func DiffFuncByName(name string) (DiffFunc, bool) {
	switch name {
	case "delta":
		return Delta, true
	case "logret":
		return LogReturn, true
	case "diff":
		return Difference, true
	}
	return nil, false
}

// WindowFuncByName resolves a built-in WindowFunc: stdev or mean.
func WindowFuncByName(name string) (WindowFunc, bool) {
	switch name {
	case "stdev":
		return StdDev, true
	case "mean":
		return Mean, true
	}
	return nil, false
}
