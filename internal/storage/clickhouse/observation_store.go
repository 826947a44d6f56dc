package clickhouse

import (
	"context"
	"fmt"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// Observation tables created by the migrations.
const (
	PricesTable       = "prices"
	FundamentalsTable = "fundamentals"
)

// ObservationStore implements storage.ObservationStore on one table.
// Prices and fundamentals share a schema and differ only in table.
type ObservationStore struct {
	conn  *Conn
	table string
}

// NewPriceStore creates an ObservationStore on the prices table.
func NewPriceStore(conn *Conn) *ObservationStore {
	return &ObservationStore{conn: conn, table: PricesTable}
}

// NewFundamentalStore creates an ObservationStore on the fundamentals table.
func NewFundamentalStore(conn *Conn) *ObservationStore {
	return &ObservationStore{conn: conn, table: FundamentalsTable}
}

// Compile-time interface check.
var _ storage.ObservationStore = (*ObservationStore)(nil)

type obsKey struct {
	symbol    domain.Symbol
	timestamp domain.Timestamp
	metric    string
}

// InsertBulk adds observations. Fails entire batch on duplicate
// (symbol, timestamp, metric). MergeTree does not enforce uniqueness, so
// existing keys are checked before the insert.
func (s *ObservationStore) InsertBulk(ctx context.Context, obs []*domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	type span struct{ min, max domain.Timestamp }
	spans := make(map[domain.Symbol]span)
	seen := make(map[obsKey]struct{}, len(obs))
	for _, o := range obs {
		if o == nil || o.Symbol == "" || o.Metric == "" || !domain.IsFinite(o.Value) {
			return storage.ErrInvalidInput
		}
		k := obsKey{o.Symbol, o.Timestamp, o.Metric}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		sp, ok := spans[o.Symbol]
		if !ok {
			sp = span{o.Timestamp, o.Timestamp}
		}
		sp.min = min(sp.min, o.Timestamp)
		sp.max = max(sp.max, o.Timestamp)
		spans[o.Symbol] = sp
	}

	for sym, sp := range spans {
		existing, err := s.GetByTimeRange(ctx, sym, sp.min, sp.max)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, e := range existing {
			if _, dup := seen[obsKey{e.Symbol, e.Timestamp, e.Metric}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, timestamp, metric, value)
	`, s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		if err := batch.Append(string(o.Symbol), int64(o.Timestamp), o.Metric, o.Value); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySymbol retrieves all observations of a symbol.
func (s *ObservationStore) GetBySymbol(ctx context.Context, symbol domain.Symbol) ([]*domain.Observation, error) {
	query := fmt.Sprintf(`
		SELECT symbol, timestamp, metric, value
		FROM %s
		WHERE symbol = ?
		ORDER BY timestamp ASC, metric ASC
	`, s.table)

	rows, err := s.conn.Query(ctx, query, string(symbol))
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// GetBySymbols retrieves observations of several symbols.
func (s *ObservationStore) GetBySymbols(ctx context.Context, symbols []domain.Symbol) ([]*domain.Observation, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	names := make([]string, len(symbols))
	for i, sym := range symbols {
		names[i] = string(sym)
	}

	query := fmt.Sprintf(`
		SELECT symbol, timestamp, metric, value
		FROM %s
		WHERE symbol IN (?)
		ORDER BY timestamp ASC, symbol ASC, metric ASC
	`, s.table)

	rows, err := s.conn.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("query by symbols: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// GetByTimeRange retrieves observations of a symbol within [start, end] (inclusive).
func (s *ObservationStore) GetByTimeRange(ctx context.Context, symbol domain.Symbol, start, end domain.Timestamp) ([]*domain.Observation, error) {
	query := fmt.Sprintf(`
		SELECT symbol, timestamp, metric, value
		FROM %s
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, metric ASC
	`, s.table)

	rows, err := s.conn.Query(ctx, query, string(symbol), int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

func scanObservations(rows chRows) ([]*domain.Observation, error) {
	var out []*domain.Observation

	for rows.Next() {
		var (
			symbol, metric string
			timestamp      int64
			value          float64
		)
		if err := rows.Scan(&symbol, &timestamp, &metric, &value); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		out = append(out, &domain.Observation{
			Symbol:    domain.Symbol(symbol),
			Timestamp: domain.Timestamp(timestamp),
			Metric:    metric,
			Value:     value,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}
	return out, nil
}
