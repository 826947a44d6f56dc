// Package ingestion copies raw market observations from a data source into
// the observation stores, resuming from recorded progress.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/storage"
)

// Observation kinds used as metric labels.
const (
	KindPrices       = "prices"
	KindFundamentals = "fundamentals"
)

// Manager ingests price observations per symbol.
type Manager struct {
	source           marketdata.ObservationSource
	priceStore       storage.ObservationStore
	fundamentalStore storage.ObservationStore
	progressStore    storage.IngestProgressStore
	metrics          *observability.Metrics
	parallelism      int
	logger           *slog.Logger
}

// ManagerOptions contains configuration for creating a Manager.
// FundamentalStore, ProgressStore and Metrics are optional.
type ManagerOptions struct {
	Source           marketdata.ObservationSource
	PriceStore       storage.ObservationStore
	FundamentalStore storage.ObservationStore
	ProgressStore    storage.IngestProgressStore
	Metrics          *observability.Metrics
	Parallelism      int // <= 0 means one goroutine per symbol
	Logger           *slog.Logger
}

// NewManager creates a new ingestion manager.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		source:           opts.Source,
		priceStore:       opts.PriceStore,
		fundamentalStore: opts.FundamentalStore,
		progressStore:    opts.ProgressStore,
		metrics:          opts.Metrics,
		parallelism:      opts.Parallelism,
		logger:           logger,
	}
}

// SymbolResult contains statistics for one ingested symbol.
type SymbolResult struct {
	Symbol   domain.Symbol
	Fetched  int
	Stored   int
	Skipped  int // already covered by recorded progress
	Last     domain.Timestamp
	Duration time.Duration
}

// IngestSymbol fetches a symbol's observations and stores those newer than
// its recorded progress, then advances the progress.
func (m *Manager) IngestSymbol(ctx context.Context, symbol domain.Symbol) (*SymbolResult, error) {
	start := time.Now()
	res := &SymbolResult{Symbol: symbol}

	since, err := m.lastIngested(ctx, symbol)
	if err != nil {
		return nil, err
	}

	obs, err := m.source.FetchObservations(ctx, symbol)
	if m.metrics != nil {
		m.metrics.RecordFetch("ingest", time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	res.Fetched = len(obs)

	fresh := make([]*domain.Observation, 0, len(obs))
	for _, o := range obs {
		if since != nil && o.Timestamp <= *since {
			res.Skipped++
			continue
		}
		fresh = append(fresh, o)
	}
	res.Last = maxTimestamp(fresh)
	if since != nil && res.Last < *since {
		res.Last = *since
	}

	if len(fresh) > 0 {
		SortObservations(fresh)
		if err := ValidateOrdering(fresh); err != nil {
			return nil, fmt.Errorf("ingest %s: %w", symbol, err)
		}
		if err := m.insert(ctx, m.priceStore, "insert_prices", fresh); err != nil {
			return nil, fmt.Errorf("store %s: %w", symbol, err)
		}
		res.Stored = len(fresh)

		if m.progressStore != nil {
			progress := &storage.IngestProgress{Symbol: symbol, Timestamp: res.Last}
			if err := m.progressStore.SetLastIngested(ctx, progress); err != nil {
				return nil, fmt.Errorf("record progress %s: %w", symbol, err)
			}
		}
	}

	if m.metrics != nil {
		m.metrics.RecordIngestion(KindPrices, res.Stored)
	}
	res.Duration = time.Since(start)
	m.logger.Info("symbol ingested",
		slog.String("symbol", string(symbol)),
		slog.Int("fetched", res.Fetched),
		slog.Int("stored", res.Stored),
		slog.Int("skipped", res.Skipped))
	return res, nil
}

// Run ingests every symbol concurrently. The first failure cancels the
// remaining symbols; results of completed symbols are kept in order.
func (m *Manager) Run(ctx context.Context, symbols []domain.Symbol) ([]*SymbolResult, error) {
	results := make([]*SymbolResult, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	if m.parallelism > 0 {
		g.SetLimit(m.parallelism)
	}
	for i, sym := range symbols {
		g.Go(func() error {
			res, err := m.IngestSymbol(gctx, sym)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// IngestFundamentals stores fundamental observations, skipping any
// (symbol, timestamp, metric) already stored. Returns the number stored.
func (m *Manager) IngestFundamentals(ctx context.Context, obs []*domain.Observation) (int, error) {
	if m.fundamentalStore == nil {
		return 0, fmt.Errorf("ingest fundamentals: %w: no fundamental store", storage.ErrInvalidInput)
	}
	if len(obs) == 0 {
		return 0, nil
	}

	bySymbol := make(map[domain.Symbol][]*domain.Observation)
	for _, o := range obs {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	var fresh []*domain.Observation
	for sym, group := range bySymbol {
		existing, err := m.fundamentalStore.GetBySymbol(ctx, sym)
		if err != nil {
			return 0, fmt.Errorf("load fundamentals %s: %w", sym, err)
		}
		stored := make(map[[2]string]map[domain.Timestamp]struct{})
		for _, e := range existing {
			k := [2]string{string(e.Symbol), e.Metric}
			if stored[k] == nil {
				stored[k] = make(map[domain.Timestamp]struct{})
			}
			stored[k][e.Timestamp] = struct{}{}
		}
		for _, o := range group {
			if _, dup := stored[[2]string{string(o.Symbol), o.Metric}][o.Timestamp]; !dup {
				fresh = append(fresh, o)
			}
		}
	}

	SortObservations(fresh)
	if err := ValidateOrdering(fresh); err != nil {
		return 0, fmt.Errorf("ingest fundamentals: %w", err)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := m.insert(ctx, m.fundamentalStore, "insert_fundamentals", fresh); err != nil {
		return 0, fmt.Errorf("store fundamentals: %w", err)
	}
	if m.metrics != nil {
		m.metrics.RecordIngestion(KindFundamentals, len(fresh))
	}
	return len(fresh), nil
}

func (m *Manager) lastIngested(ctx context.Context, symbol domain.Symbol) (*domain.Timestamp, error) {
	if m.progressStore == nil {
		return nil, nil
	}
	p, err := m.progressStore.GetLastIngested(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", symbol, err)
	}
	return &p.Timestamp, nil
}

func (m *Manager) insert(ctx context.Context, store storage.ObservationStore, op string, obs []*domain.Observation) error {
	start := time.Now()
	err := store.InsertBulk(ctx, obs)
	if m.metrics != nil {
		m.metrics.RecordDBQuery("observations", op, time.Since(start), err)
	}
	return err
}

func maxTimestamp(obs []*domain.Observation) domain.Timestamp {
	var last domain.Timestamp
	for i, o := range obs {
		if i == 0 || o.Timestamp > last {
			last = o.Timestamp
		}
	}
	return last
}
