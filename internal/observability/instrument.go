package observability

import (
	"context"
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
)

// PriceSource wraps a marketdata.PriceSource and records fetch latency
// and errors under a source label.
type PriceSource struct {
	next    marketdata.PriceSource
	metrics *Metrics
	name    string
}

// InstrumentPriceSource returns src wrapped with fetch metrics.
func InstrumentPriceSource(src marketdata.PriceSource, m *Metrics, name string) *PriceSource {
	return &PriceSource{next: src, metrics: m, name: name}
}

var _ marketdata.PriceSource = (*PriceSource)(nil)

// FetchPriceSeries implements marketdata.PriceSource.
func (s *PriceSource) FetchPriceSeries(ctx context.Context, symbol domain.Symbol) (*domain.TimeSeries, error) {
	start := time.Now()
	ts, err := s.next.FetchPriceSeries(ctx, symbol)
	s.metrics.RecordFetch(s.name, time.Since(start), err)
	return ts, err
}
