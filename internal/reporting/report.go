// Package reporting renders backtest runs as CSV and Markdown.
package reporting

import (
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/metrics"
)

// Report is the rendered view of one backtest run.
type Report struct {
	GeneratedAt time.Time

	Run     *domain.BacktestRun
	Summary *metrics.Summary

	// Steps in ascending step order.
	Steps []*domain.StepResult

	// FeatureUsage counts how often each feature was selected, sorted by
	// count descending then name.
	FeatureUsage []FeatureUsageRow
}

// FeatureUsageRow is one row of the feature usage table.
type FeatureUsageRow struct {
	Feature string
	Count   int
	Share   float64 // Count / steps that selected any feature
}
