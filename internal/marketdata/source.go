// Package marketdata defines the market-data collaborators consumed by the
// backtest and their implementations: an HTTP dataset client and sources
// backed by previously ingested observations.
package marketdata

import (
	"context"
	"fmt"
	"strings"

	"market-signal-lab/internal/domain"
)

// PriceSource returns the raw price series of one symbol, keyed by exchange
// close timestamps and carrying unprefixed features such as "close".
type PriceSource interface {
	FetchPriceSeries(ctx context.Context, symbol domain.Symbol) (*domain.TimeSeries, error)
}

// FundamentalSource returns fundamental metrics for the given symbols with
// features named "TICKER:EXCHANGE:metric".
type FundamentalSource interface {
	FetchFundamentalSeries(ctx context.Context, symbols []domain.Symbol) (*domain.TimeSeries, error)
}

// ObservationSource returns raw observations of one symbol. It is the shape
// the ingest command persists.
type ObservationSource interface {
	FetchObservations(ctx context.Context, symbol domain.Symbol) ([]*domain.Observation, error)
}

// DataSourceError reports a failed fetch. It aborts the whole backtest run.
type DataSourceError struct {
	Symbol domain.Symbol
	Op     string
	Err    error
}

func (e *DataSourceError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("marketdata %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("marketdata %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// RestrictToSymbols keeps only the features of ts namespaced by one of
// symbols. Rows are kept even when they end up empty.
func RestrictToSymbols(ts *domain.TimeSeries, symbols []domain.Symbol) *domain.TimeSeries {
	return domain.SelectFeatures(ts, func(_ domain.Timestamp, name string) bool {
		for _, sym := range symbols {
			if strings.HasPrefix(name, sym.Prefix()) {
				return true
			}
		}
		return false
	})
}
