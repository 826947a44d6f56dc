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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"market-signal-lab/internal/backtest"
	"market-signal-lab/internal/config"
	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/idhash"
	"market-signal-lab/internal/logging"
	"market-signal-lab/internal/marketdata"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/reporting"
	"market-signal-lab/internal/storage"
	"market-signal-lab/internal/storage/stores"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")

	// Backtest parameters; set flags override config
	symbols := flag.String("symbols", "", "Comma-separated symbols, e.g. NFLX:NASDAQ,GOOG:NASDAQ")
	target := flag.String("target", "", "Target symbol")
	feature := flag.String("feature", "", "Target base feature")
	diffWindow := flag.Int("diff-window", 0, "Lag for diff features")
	diffFunc := flag.String("diff-func", "", "Diff function: delta, logret, diff")
	varWindow := flag.Int("var-window", 0, "Window for variance features")
	varFunc := flag.String("var-func", "", "Window function: stdev, mean")
	horizon := flag.Int("horizon", 0, "Forecast horizon in rows")
	startDate := flag.String("start-date", "", "Drop rows before this date (YYYY-MM-DD)")
	minTrain := flag.Int("min-train", 0, "Minimum training rows before the first step")
	sparsity := flag.Float64("sparsity", 0, "Minimum fraction of present features per training row")
	topFeatures := flag.Int("top-features", 0, "Features kept by mutual-information selection")
	kNearest := flag.Int("k", 0, "Neighbours used for prediction")
	maxSteps := flag.Int("max-steps", 0, "Stop after this many steps (0 = all)")
	fundamentals := flag.Bool("fundamentals", false, "Merge stored fundamentals into the features")

	// Data and storage
	source := flag.String("source", "http", "Price source: http or store")
	authToken := flag.String("auth-token", "", "Dataset API token")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	// Output
	outputDir := flag.String("output-dir", "", "Write steps.csv and report.md here (empty = stdout summary only)")
	persist := flag.Bool("persist", false, "Persist the run and its steps")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		b := &cfg.Backtest
		switch f.Name {
		case "symbols":
			b.Symbols = splitList(*symbols)
		case "target":
			b.TargetSymbol = *target
		case "feature":
			b.TargetFeature = *feature
		case "diff-window":
			b.DiffWindow = *diffWindow
		case "diff-func":
			b.DiffFunc = *diffFunc
		case "var-window":
			b.VarWindow = *varWindow
		case "var-func":
			b.VarFunc = *varFunc
		case "horizon":
			b.ForecastHorizon = *horizon
		case "start-date":
			b.StartDate = *startDate
		case "min-train":
			b.MinTrainExamples = *minTrain
		case "sparsity":
			b.SparsityFilter = *sparsity
		case "top-features":
			b.TopFeatures = *topFeatures
		case "k":
			b.KNearest = *kNearest
		case "max-steps":
			b.MaxSteps = *maxSteps
		case "fundamentals":
			b.IncludeFundamentals = *fundamentals
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
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	logger, sync, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sync() }()

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics("", nil)
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	start := time.Now()
	err = run(ctx, cfg, options{
		source:    *source,
		outputDir: *outputDir,
		persist:   *persist,
	}, metrics, logger)
	if err != nil {
		metrics.RecordRun(observability.StatusFailure, time.Since(start))
		logger.Error("backtest failed", slog.Any("error", err))
		_ = sync()
		os.Exit(1)
	}
	metrics.RecordRun(observability.StatusSuccess, time.Since(start))
}

type options struct {
	source    string
	outputDir string
	persist   bool
}

func run(ctx context.Context, cfg *config.Config, opts options, metrics *observability.Metrics, logger *slog.Logger) error {
	params, err := cfg.Backtest.Params()
	if err != nil {
		return fmt.Errorf("backtest params: %w", err)
	}
	if err := backtest.ValidateParams(params); err != nil {
		return err
	}

	set, err := stores.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	storeSource := marketdata.NewStoreSource(set.Prices, set.Fundamentals)

	var prices marketdata.PriceSource
	switch opts.source {
	case "http":
		prices = marketdata.NewHTTPSource(cfg.MarketData.Endpoint,
			marketdata.WithAuthToken(cfg.MarketData.AuthToken),
			marketdata.WithTimeout(cfg.MarketData.Timeout),
			marketdata.WithMaxRetries(cfg.MarketData.MaxRetries),
			marketdata.WithLogger(logger),
		)
	case "store":
		prices = storeSource
	default:
		return fmt.Errorf("unknown source %q: must be http or store", opts.source)
	}
	prices = observability.InstrumentPriceSource(prices, metrics, opts.source)

	runID := idhash.ComputeRunID(params)
	logger.Info("running backtest",
		slog.String("run_id", runID),
		slog.String("target", params.TargetSymbol.Feature(params.TargetFeature)),
		slog.Int("symbols", len(params.Symbols)))

	runner := backtest.NewRunner(prices,
		backtest.WithFundamentals(storeSource),
		backtest.WithParallelism(cfg.MarketData.Parallelism),
		backtest.WithEngineOptions(
			backtest.WithLogger(logger),
			backtest.WithObserver(metrics),
		),
	)

	seq, err := runner.Run(ctx, runID, params)
	if err != nil {
		return err
	}

	var steps []*domain.StepResult
	for r := range seq {
		if ctx.Err() != nil {
			logger.Warn("backtest interrupted", slog.Int("steps", len(steps)))
			break
		}
		steps = append(steps, &r)
	}

	record := &domain.BacktestRun{RunID: runID, Params: params, CreatedAt: time.Now().UTC()}
	report := reporting.Build(record, steps, record.CreatedAt)

	if opts.outputDir != "" {
		if err := writeReport(opts.outputDir, report); err != nil {
			return err
		}
		logger.Info("report written", slog.String("dir", opts.outputDir))
	}
	printSummary(report)

	if opts.persist && ctx.Err() == nil {
		if err := persistRun(ctx, set, record, steps, metrics); err != nil {
			return err
		}
		logger.Info("run persisted", slog.String("run_id", runID), slog.Int("steps", len(steps)))
	}
	return ctx.Err()
}

func persistRun(ctx context.Context, set *stores.Set, run *domain.BacktestRun, steps []*domain.StepResult, metrics *observability.Metrics) error {
	start := time.Now()
	err := set.Runs.Insert(ctx, run)
	metrics.RecordDBQuery("runs", "insert_run", time.Since(start), err)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// identical parameters produce identical steps
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist run: %w", err)
	}

	start = time.Now()
	err = set.Steps.InsertBulk(ctx, steps)
	metrics.RecordDBQuery("runs", "insert_steps", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("persist steps: %w", err)
	}
	return nil
}

func writeReport(dir string, r *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "steps.csv"), []byte(reporting.RenderCSV(r.Steps)), 0o644); err != nil {
		return fmt.Errorf("write steps.csv: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(reporting.RenderMarkdown(r)), 0o644); err != nil {
		return fmt.Errorf("write report.md: %w", err)
	}
	return nil
}

// printSummary outputs the human-readable run summary.
func printSummary(r *reporting.Report) {
	s := r.Summary
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Run ID:             %s\n", r.Run.RunID)
	fmt.Printf("Steps:              %d\n", s.Steps)
	fmt.Printf("Predicted:          %d\n", s.Predicted)
	fmt.Printf("Scored Pairs:       %d\n", s.Pairs)
	if s.Correlation != nil {
		fmt.Printf("Correlation:        %.4f\n", *s.Correlation)
	} else {
		fmt.Println("Correlation:        n/a")
	}
	fmt.Printf("MAE:                %.6f\n", s.MAE)
	fmt.Printf("RMSE:               %.6f\n", s.RMSE)
	fmt.Printf("Hit Rate:           %.2f%%\n", s.HitRate*100)
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Info("starting metrics server", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", slog.Any("error", err))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
