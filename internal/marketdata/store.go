package marketdata

import (
	"context"
	"errors"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/features"
	"market-signal-lab/internal/storage"
)

// StoreSource serves previously ingested observations. Prices and
// fundamentals live in separate stores; a nil fundamentals store yields an
// empty fundamental series.
type StoreSource struct {
	prices       storage.ObservationStore
	fundamentals storage.ObservationStore
}

// NewStoreSource creates a source over ingested observations.
func NewStoreSource(prices, fundamentals storage.ObservationStore) *StoreSource {
	return &StoreSource{prices: prices, fundamentals: fundamentals}
}

var (
	_ PriceSource       = (*StoreSource)(nil)
	_ FundamentalSource = (*StoreSource)(nil)
	_ ObservationSource = (*StoreSource)(nil)
)

// ErrNoData is the cause reported when a symbol has no stored prices.
var ErrNoData = errors.New("no stored observations")

// FetchObservations returns the stored price observations of symbol.
func (s *StoreSource) FetchObservations(ctx context.Context, symbol domain.Symbol) ([]*domain.Observation, error) {
	obs, err := s.prices.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, &DataSourceError{Symbol: symbol, Op: "load observations", Err: err}
	}
	return obs, nil
}

// FetchPriceSeries implements PriceSource. A symbol with no stored rows is
// an error, the same as an unknown dataset over HTTP.
func (s *StoreSource) FetchPriceSeries(ctx context.Context, symbol domain.Symbol) (*domain.TimeSeries, error) {
	obs, err := s.FetchObservations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, &DataSourceError{Symbol: symbol, Op: "load observations", Err: ErrNoData}
	}
	return features.SeriesFromObservations(obs, false), nil
}

// FetchFundamentalSeries implements FundamentalSource.
func (s *StoreSource) FetchFundamentalSeries(ctx context.Context, symbols []domain.Symbol) (*domain.TimeSeries, error) {
	if s.fundamentals == nil || len(symbols) == 0 {
		return domain.EmptySeries(), nil
	}
	obs, err := s.fundamentals.GetBySymbols(ctx, symbols)
	if err != nil {
		return nil, &DataSourceError{Op: "load fundamentals", Err: err}
	}
	return features.SeriesFromObservations(obs, true), nil
}
