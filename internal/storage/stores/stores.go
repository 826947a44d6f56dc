// Package stores opens the configured store implementations for the
// commands: in-memory, or PostgreSQL for runs plus ClickHouse for
// observations.
package stores

import (
	"context"
	"fmt"
	"log/slog"

	"market-signal-lab/internal/config"
	"market-signal-lab/internal/storage"
	chstore "market-signal-lab/internal/storage/clickhouse"
	"market-signal-lab/internal/storage/memory"
	"market-signal-lab/internal/storage/migrations"
	pgstore "market-signal-lab/internal/storage/postgres"
)

// Set bundles every store a command may use.
type Set struct {
	Prices       storage.ObservationStore
	Fundamentals storage.ObservationStore
	Progress     storage.IngestProgressStore
	Runs         storage.RunStore
	Steps        storage.StepResultStore

	closers []func()
}

// Close releases every open connection.
func (s *Set) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Memory returns a Set of in-memory stores.
func Memory() *Set {
	return &Set{
		Prices:       memory.NewObservationStore(),
		Fundamentals: memory.NewObservationStore(),
		Progress:     memory.NewIngestProgressStore(),
		Runs:         memory.NewRunStore(),
		Steps:        memory.NewStepResultStore(),
	}
}

// Open connects the stores selected by cfg and applies migrations. Without
// UseMemory, a missing DSN leaves the in-memory store for its side:
// observations without ClickHouse, runs and progress without PostgreSQL.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Set, error) {
	set := Memory()
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return set, nil
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN,
			pgstore.WithMaxConns(cfg.MaxConns),
			pgstore.WithConnectTimeout(cfg.ConnectTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		set.closers = append(set.closers, pool.Close)

		if err := migrations.RunPostgres(ctx, pool); err != nil {
			set.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		set.Runs = pgstore.NewRunStore(pool)
		set.Steps = pgstore.NewStepResultStore(pool)
		set.Progress = pgstore.NewIngestProgressStore(pool)
		logger.Info("connected to postgres")
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouse(ctx, cfg.ClickhouseDSN)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		set.closers = append(set.closers, func() { _ = conn.Close() })

		set.Prices = chstore.NewPriceStore(conn)
		set.Fundamentals = chstore.NewFundamentalStore(conn)
		logger.Info("connected to clickhouse")
	}

	return set, nil
}
