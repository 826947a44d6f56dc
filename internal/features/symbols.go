package features

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"market-signal-lab/internal/domain"
)

// PriceFetcher returns the raw price series of one symbol.
type PriceFetcher interface {
	FetchPriceSeries(ctx context.Context, symbol domain.Symbol) (*domain.TimeSeries, error)
}

// SymbolSeriesConfig parameterizes BuildSymbolSeries.
type SymbolSeriesConfig struct {
	DiffWindow int
	DiffFn     DiffFunc
	VarWindow  int
	VarFn      WindowFunc
	// Parallelism bounds concurrent fetches; <= 0 means one per symbol.
	Parallelism int
}

// BuildSymbolSeries fetches every symbol's raw series, engineers its
// features, namespaces all feature names with "<symbol>:" and merges the
// symbols by timestamp union. Symbols are merged in the given order. Any
// fetch failure aborts the build.
func BuildSymbolSeries(ctx context.Context, fetcher PriceFetcher, symbols []domain.Symbol, cfg SymbolSeriesConfig) (*domain.TimeSeries, error) {
	perSymbol := make([]*domain.TimeSeries, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i, sym := range symbols {
		g.Go(func() error {
			raw, err := fetcher.FetchPriceSeries(gctx, sym)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", sym, err)
			}
			engineered, err := Engineer(raw, cfg.DiffWindow, cfg.DiffFn, cfg.VarWindow, cfg.VarFn)
			if err != nil {
				return fmt.Errorf("engineer %s: %w", sym, err)
			}
			perSymbol[i] = domain.CloneSeries(engineered, sym.Prefix())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := domain.EmptySeries()
	for _, ts := range perSymbol {
		merged = domain.MergeSeries(merged, ts)
	}
	return merged, nil
}

// SeriesFromObservations pivots observations into a series. When prefix is
// true every feature is namespaced "<symbol>:<metric>". Later observations
// for the same (timestamp, feature) override earlier ones.
func SeriesFromObservations(obs []*domain.Observation, prefix bool) *domain.TimeSeries {
	b := domain.NewSeriesBuilder()
	for _, o := range obs {
		if o == nil || !domain.IsFinite(o.Value) {
			continue
		}
		name := o.Metric
		if prefix {
			name = o.Symbol.Feature(o.Metric)
		}
		b.Set(o.Timestamp, name, o.Value)
	}
	return b.Build()
}
