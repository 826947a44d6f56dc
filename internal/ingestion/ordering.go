package ingestion

import (
	"cmp"
	"errors"
	"slices"

	"market-signal-lab/internal/domain"
)

// ErrInvalidOrdering is returned when observations are not properly ordered.
var ErrInvalidOrdering = errors.New("observations are not in deterministic order")

// SortObservations orders observations by (timestamp ASC, symbol ASC, metric ASC).
func SortObservations(obs []*domain.Observation) {
	slices.SortFunc(obs, compareObservations)
}

// ValidateOrdering checks that observations are strictly ordered, which
// also rules out duplicate keys. Returns ErrInvalidOrdering if not.
func ValidateOrdering(obs []*domain.Observation) error {
	for i := 1; i < len(obs); i++ {
		if compareObservations(obs[i-1], obs[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// Order: (timestamp ASC, symbol ASC, metric ASC)
func compareObservations(a, b *domain.Observation) int {
	return cmp.Or(
		cmp.Compare(a.Timestamp, b.Timestamp),
		cmp.Compare(a.Symbol, b.Symbol),
		cmp.Compare(a.Metric, b.Metric),
	)
}
