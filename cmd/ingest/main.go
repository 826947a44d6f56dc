package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"market-signal-lab/internal/config"
	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/ingestion"
	"market-signal-lab/internal/logging"
	"market-signal-lab/internal/marketdata"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/storage/stores"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	symbols := flag.String("symbols", "", "Comma-separated symbols to ingest (default: backtest.symbols from config)")
	fundamentalsFile := flag.String("fundamentals-file", "", "YAML file of fundamental records to store")
	endpoint := flag.String("endpoint", "", "Dataset API endpoint")
	authToken := flag.String("auth-token", "", "Dataset API token")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (ingest progress)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (observations)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	parallelism := flag.Int("parallelism", 0, "Concurrent symbol fetches (0 = one per symbol)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "symbols":
			cfg.Backtest.Symbols = strings.Split(*symbols, ",")
		case "endpoint":
			cfg.MarketData.Endpoint = *endpoint
		case "auth-token":
			cfg.MarketData.AuthToken = *authToken
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
			cfg.Storage.UseMemory = false
		case "clickhouse-dsn":
			cfg.Storage.ClickhouseDSN = *clickhouseDSN
			cfg.Storage.UseMemory = false
		case "use-memory":
			cfg.Storage.UseMemory = *useMemory
		case "parallelism":
			cfg.MarketData.Parallelism = *parallelism
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})

	logger, sync, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sync() }()

	metrics := observability.NewMetrics("", nil)
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			logger.Info("starting metrics server", slog.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", slog.Any("error", err))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *fundamentalsFile, metrics, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingest failed", slog.Any("error", err))
		_ = sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, fundamentalsFile string, metrics *observability.Metrics, logger *slog.Logger) error {
	symbols := make([]domain.Symbol, 0, len(cfg.Backtest.Symbols))
	for _, s := range cfg.Backtest.Symbols {
		if strings.TrimSpace(s) == "" {
			continue
		}
		sym, err := domain.ParseSymbol(s)
		if err != nil {
			return err
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 && fundamentalsFile == "" {
		return fmt.Errorf("no symbols to ingest: use --symbols or backtest.symbols")
	}

	set, err := stores.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	source := marketdata.NewHTTPSource(cfg.MarketData.Endpoint,
		marketdata.WithAuthToken(cfg.MarketData.AuthToken),
		marketdata.WithTimeout(cfg.MarketData.Timeout),
		marketdata.WithMaxRetries(cfg.MarketData.MaxRetries),
		marketdata.WithLogger(logger),
	)

	mgr := ingestion.NewManager(ingestion.ManagerOptions{
		Source:           source,
		PriceStore:       set.Prices,
		FundamentalStore: set.Fundamentals,
		ProgressStore:    set.Progress,
		Metrics:          metrics,
		Parallelism:      cfg.MarketData.Parallelism,
		Logger:           logger,
	})

	if fundamentalsFile != "" {
		f, err := os.Open(fundamentalsFile)
		if err != nil {
			return fmt.Errorf("open fundamentals file: %w", err)
		}
		obs, err := ingestion.LoadFundamentals(f)
		f.Close()
		if err != nil {
			return err
		}
		n, err := mgr.IngestFundamentals(ctx, obs)
		if err != nil {
			return err
		}
		logger.Info("fundamentals ingested", slog.Int("records", len(obs)), slog.Int("stored", n))
	}

	if len(symbols) == 0 {
		return nil
	}

	start := time.Now()
	results, err := mgr.Run(ctx, symbols)
	if err != nil {
		return err
	}

	stored := 0
	for _, r := range results {
		stored += r.Stored
	}
	logger.Info("ingest finished",
		slog.Int("symbols", len(results)),
		slog.Int("stored", stored),
		slog.Duration("duration", time.Since(start)))
	return nil
}
