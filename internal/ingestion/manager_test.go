package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/storage"
	"market-signal-lab/internal/storage/memory"
)

// fakeSource serves fixed observations per symbol.
type fakeSource struct {
	mu  sync.Mutex
	obs map[domain.Symbol][]*domain.Observation
}

func (s *fakeSource) FetchObservations(_ context.Context, symbol domain.Symbol) ([]*domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs, ok := s.obs[symbol]
	if !ok {
		return nil, &marketdata.DataSourceError{Symbol: symbol, Op: "fetch dataset", Err: errors.New("unknown symbol")}
	}
	return obs, nil
}

func closes(sym domain.Symbol, ts ...domain.Timestamp) []*domain.Observation {
	out := make([]*domain.Observation, 0, len(ts))
	for i, t := range ts {
		out = append(out, &domain.Observation{Symbol: sym, Timestamp: t, Metric: "close", Value: float64(100 + i)})
	}
	return out
}

// orderValidatingStore rejects batches that are not sorted.
type orderValidatingStore struct {
	storage.ObservationStore
}

func (s *orderValidatingStore) InsertBulk(ctx context.Context, obs []*domain.Observation) error {
	if err := ValidateOrdering(obs); err != nil {
		return err
	}
	return s.ObservationStore.InsertBulk(ctx, obs)
}

func TestManager_IngestSymbol_SortsAndRecordsProgress(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{obs: map[domain.Symbol][]*domain.Observation{
		"NFLX:NASDAQ": closes("NFLX:NASDAQ", 300, 100, 200),
	}}
	prices := memory.NewObservationStore()
	progress := memory.NewIngestProgressStore()

	mgr := NewManager(ManagerOptions{
		Source:        src,
		PriceStore:    &orderValidatingStore{ObservationStore: prices},
		ProgressStore: progress,
	})

	res, err := mgr.IngestSymbol(ctx, "NFLX:NASDAQ")
	if err != nil {
		t.Fatalf("IngestSymbol failed: %v (manager must sort before InsertBulk)", err)
	}
	if res.Fetched != 3 || res.Stored != 3 || res.Last != 300 {
		t.Errorf("unexpected result: %+v", res)
	}

	p, err := progress.GetLastIngested(ctx, "NFLX:NASDAQ")
	if err != nil {
		t.Fatalf("GetLastIngested failed: %v", err)
	}
	if p.Timestamp != 300 {
		t.Errorf("expected progress 300, got %d", p.Timestamp)
	}
}

func TestManager_IngestSymbol_Resumes(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{obs: map[domain.Symbol][]*domain.Observation{
		"NFLX:NASDAQ": closes("NFLX:NASDAQ", 100, 200),
	}}
	prices := memory.NewObservationStore()
	mgr := NewManager(ManagerOptions{
		Source:        src,
		PriceStore:    prices,
		ProgressStore: memory.NewIngestProgressStore(),
	})

	if _, err := mgr.IngestSymbol(ctx, "NFLX:NASDAQ"); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}

	src.obs["NFLX:NASDAQ"] = closes("NFLX:NASDAQ", 100, 200, 300)
	res, err := mgr.IngestSymbol(ctx, "NFLX:NASDAQ")
	if err != nil {
		t.Fatalf("second ingest failed: %v (already stored rows must be skipped)", err)
	}
	if res.Stored != 1 || res.Skipped != 2 {
		t.Errorf("expected 1 stored and 2 skipped, got %+v", res)
	}

	res, err = mgr.IngestSymbol(ctx, "NFLX:NASDAQ")
	if err != nil {
		t.Fatalf("third ingest failed: %v", err)
	}
	if res.Stored != 0 || res.Last != 300 {
		t.Errorf("expected nothing new, got %+v", res)
	}

	all, _ := prices.GetBySymbol(ctx, "NFLX:NASDAQ")
	if len(all) != 3 {
		t.Errorf("expected 3 stored observations, got %d", len(all))
	}
}

func TestManager_Run(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{obs: map[domain.Symbol][]*domain.Observation{
		"NFLX:NASDAQ": closes("NFLX:NASDAQ", 100, 200),
		"GOOG:NASDAQ": closes("GOOG:NASDAQ", 100),
	}}
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	mgr := NewManager(ManagerOptions{
		Source:      src,
		PriceStore:  memory.NewObservationStore(),
		Metrics:     m,
		Parallelism: 1,
	})

	results, err := mgr.Run(ctx, []domain.Symbol{"NFLX:NASDAQ", "GOOG:NASDAQ"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results[0].Symbol != "NFLX:NASDAQ" || results[0].Stored != 2 || results[1].Stored != 1 {
		t.Errorf("unexpected results: %+v %+v", results[0], results[1])
	}
	if got := testutil.ToFloat64(m.ObservationsStored.WithLabelValues(KindPrices)); got != 3 {
		t.Errorf("expected 3 stored observations metric, got %f", got)
	}

	_, err = mgr.Run(ctx, []domain.Symbol{"AAPL:NASDAQ"})
	var dsErr *marketdata.DataSourceError
	if !errors.As(err, &dsErr) {
		t.Errorf("expected DataSourceError, got %v", err)
	}
}

func TestManager_IngestFundamentals(t *testing.T) {
	ctx := context.Background()
	fundamentals := memory.NewObservationStore()
	mgr := NewManager(ManagerOptions{FundamentalStore: fundamentals})

	obs := []*domain.Observation{
		{Symbol: "NFLX:NASDAQ", Timestamp: 200, Metric: "eps", Value: 1},
		{Symbol: "NFLX:NASDAQ", Timestamp: 100, Metric: "eps", Value: 0.5},
	}
	n, err := mgr.IngestFundamentals(ctx, obs)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 stored, got %d (%v)", n, err)
	}

	obs = append(obs, &domain.Observation{Symbol: "NFLX:NASDAQ", Timestamp: 300, Metric: "eps", Value: 2})
	n, err = mgr.IngestFundamentals(ctx, obs)
	if err != nil || n != 1 {
		t.Fatalf("expected only the new record stored, got %d (%v)", n, err)
	}

	_, err = NewManager(ManagerOptions{}).IngestFundamentals(ctx, obs)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without a store, got %v", err)
	}
}

func TestValidateOrdering(t *testing.T) {
	obs := closes("NFLX:NASDAQ", 100, 200)
	if err := ValidateOrdering(obs); err != nil {
		t.Errorf("expected ordered, got %v", err)
	}
	dup := append(closes("NFLX:NASDAQ", 100), closes("NFLX:NASDAQ", 100)...)
	if !errors.Is(ValidateOrdering(dup), ErrInvalidOrdering) {
		t.Error("expected ErrInvalidOrdering for duplicate key")
	}
}

func TestLoadFundamentals(t *testing.T) {
	input := `
- symbol: nflx:nasdaq
  date: "2014-01-02"
  metric: EPS
  value: 0.79
- symbol: GOOG:NASDAQ
  date: "2014-01-02"
  metric: pe
  value: 30
`
	obs, err := LoadFundamentals(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadFundamentals failed: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	want, _ := marketdata.CloseTimestamp("2014-01-02")
	if obs[0].Symbol != "NFLX:NASDAQ" || obs[0].Metric != "eps" || obs[0].Timestamp != want {
		t.Errorf("unexpected first observation: %+v", obs[0])
	}

	if _, err := LoadFundamentals(strings.NewReader("- symbol: NFLX\n  date: \"2014-01-02\"\n  metric: eps\n")); !errors.Is(err, domain.ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}

	empty, err := LoadFundamentals(strings.NewReader(""))
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty result, got %d (%v)", len(empty), err)
	}
}
