// Package stub provides in-memory market-data sources for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
)

// ErrUnknownSymbol is the cause reported for symbols without data.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Source serves fixed price and fundamental series and counts fetches.
// Symbols registered with Fail return a DataSourceError.
type Source struct {
	mu           sync.Mutex
	prices       map[domain.Symbol]*domain.TimeSeries
	fundamentals *domain.TimeSeries
	failures     map[domain.Symbol]error
	calls        map[domain.Symbol]int
}

// NewSource creates an empty stub source.
func NewSource() *Source {
	return &Source{
		prices:   make(map[domain.Symbol]*domain.TimeSeries),
		failures: make(map[domain.Symbol]error),
		calls:    make(map[domain.Symbol]int),
	}
}

// SetPrices registers a raw price series for a symbol.
func (s *Source) SetPrices(symbol domain.Symbol, ts *domain.TimeSeries) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = ts
	return s
}

// SetCloses registers a close-only price series built from closes.
func (s *Source) SetCloses(symbol domain.Symbol, closes map[domain.Timestamp]float64) *Source {
	b := domain.NewSeriesBuilder()
	for t, v := range closes {
		b.Set(t, "close", v)
	}
	return s.SetPrices(symbol, b.Build())
}

// SetFundamentals registers the fundamental series, already namespaced.
func (s *Source) SetFundamentals(ts *domain.TimeSeries) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fundamentals = ts
	return s
}

// Fail makes every fetch of symbol fail with err.
func (s *Source) Fail(symbol domain.Symbol, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[symbol] = err
	return s
}

// Calls returns how many times symbol's prices were fetched.
func (s *Source) Calls(symbol domain.Symbol) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

// FetchPriceSeries implements marketdata.PriceSource.
func (s *Source) FetchPriceSeries(ctx context.Context, symbol domain.Symbol) (*domain.TimeSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[symbol]++

	if err := ctx.Err(); err != nil {
		return nil, &marketdata.DataSourceError{Symbol: symbol, Op: "prices", Err: err}
	}
	if err, ok := s.failures[symbol]; ok {
		return nil, &marketdata.DataSourceError{Symbol: symbol, Op: "prices", Err: err}
	}
	ts, ok := s.prices[symbol]
	if !ok {
		return nil, &marketdata.DataSourceError{Symbol: symbol, Op: "prices", Err: ErrUnknownSymbol}
	}
	return ts, nil
}

// FetchFundamentalSeries implements marketdata.FundamentalSource.
func (s *Source) FetchFundamentalSeries(_ context.Context, symbols []domain.Symbol) (*domain.TimeSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sym := range symbols {
		if err, ok := s.failures[sym]; ok {
			return nil, &marketdata.DataSourceError{Symbol: sym, Op: "fundamentals", Err: err}
		}
	}
	if s.fundamentals == nil {
		return domain.EmptySeries(), nil
	}
	return marketdata.RestrictToSymbols(s.fundamentals, symbols), nil
}

var (
	_ marketdata.PriceSource       = (*Source)(nil)
	_ marketdata.FundamentalSource = (*Source)(nil)
)
