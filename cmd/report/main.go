package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"market-signal-lab/internal/config"
	"market-signal-lab/internal/logging"
	"market-signal-lab/internal/metrics"
	"market-signal-lab/internal/reporting"
	"market-signal-lab/internal/storage/stores"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	runID := flag.String("run-id", "", "Run to render (empty lists stored runs)")
	outputDir := flag.String("output-dir", "", "Write steps.csv and report.md here (empty = print Markdown)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
		cfg.Storage.UseMemory = false
	}
	if cfg.Storage.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn is required; stored runs live in PostgreSQL")
		os.Exit(1)
	}

	logger, sync, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sync() }()

	ctx := context.Background()
	set, err := stores.Open(ctx, config.StorageConfig{PostgresDSN: cfg.Storage.PostgresDSN}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer set.Close()

	if *runID == "" {
		if err := listRuns(ctx, set); err != nil {
			fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
			os.Exit(1)
		}
		return
	}

	report, err := reporting.NewGenerator(set.Runs, set.Steps).Generate(ctx, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if *outputDir == "" {
		fmt.Print(reporting.RenderMarkdown(report))
		return
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	files := map[string]string{
		"steps.csv": reporting.RenderCSV(report.Steps),
		"report.md": reporting.RenderMarkdown(report),
	}
	for name, content := range files {
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Generated: %s\n", path)
	}
}

// listRuns prints one summary line per stored run.
func listRuns(ctx context.Context, set *stores.Set) error {
	summaries, err := metrics.NewAggregator(set.Runs, set.Steps).ComputeAll(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No stored runs.")
		return nil
	}
	fmt.Printf("%-46s %6s %6s %8s %8s\n", "RUN", "STEPS", "PAIRS", "CORR", "HIT")
	for _, s := range summaries {
		corr := "n/a"
		if s.Correlation != nil {
			corr = fmt.Sprintf("%.4f", *s.Correlation)
		}
		fmt.Printf("%-46s %6d %6d %8s %7.2f%%\n", s.RunID, s.Steps, s.Pairs, corr, s.HitRate*100)
	}
	return nil
}
