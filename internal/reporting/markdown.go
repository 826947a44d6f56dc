package reporting

import (
	"fmt"
	"strings"
	"time"

	"market-signal-lab/internal/domain"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Backtest Report\n\n")
	if r.Run != nil {
		sb.WriteString(fmt.Sprintf("Run: `%s`\n\n", r.Run.RunID))
	}
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Parameters
	if r.Run != nil {
		p := r.Run.Params
		sb.WriteString("## Parameters\n\n")
		sb.WriteString("| Parameter | Value |\n")
		sb.WriteString("|-----------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Symbols | %s |\n", joinSymbols(p.Symbols)))
		sb.WriteString(fmt.Sprintf("| Target | %s |\n", p.TargetSymbol.Feature(p.TargetFeature)))
		sb.WriteString(fmt.Sprintf("| Diff | %s, window %d |\n", p.DiffFunc, p.DiffWindow))
		sb.WriteString(fmt.Sprintf("| Variance | %s, window %d |\n", p.VarFunc, p.VarWindow))
		sb.WriteString(fmt.Sprintf("| Forecast Horizon | %d |\n", p.ForecastHorizon))
		sb.WriteString(fmt.Sprintf("| Min Train Examples | %d |\n", p.MinTrainExamples))
		sb.WriteString(fmt.Sprintf("| Sparsity Filter | %.2f |\n", p.SparsityFilter))
		sb.WriteString(fmt.Sprintf("| Top Features | %d |\n", p.TopFeatures))
		sb.WriteString(fmt.Sprintf("| K Nearest | %d |\n", p.KNearest))
		sb.WriteString(fmt.Sprintf("| Include Fundamentals | %t |\n", p.IncludeFundamentals))
		sb.WriteString("\n")
	}

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	if s == nil || s.Steps == 0 {
		sb.WriteString("No steps evaluated.\n\n")
	} else {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Steps | %d |\n", s.Steps))
		sb.WriteString(fmt.Sprintf("| Predicted Steps | %d |\n", s.Predicted))
		sb.WriteString(fmt.Sprintf("| Scored Pairs | %d |\n", s.Pairs))
		if s.Correlation != nil {
			sb.WriteString(fmt.Sprintf("| Correlation | %.4f |\n", *s.Correlation))
		} else {
			sb.WriteString("| Correlation | n/a |\n")
		}
		sb.WriteString(fmt.Sprintf("| MAE | %.6f |\n", s.MAE))
		sb.WriteString(fmt.Sprintf("| RMSE | %.6f |\n", s.RMSE))
		sb.WriteString(fmt.Sprintf("| Median Abs Error | %.6f |\n", s.MedianAbsErr))
		sb.WriteString(fmt.Sprintf("| P90 Abs Error | %.6f |\n", s.P90AbsErr))
		sb.WriteString(fmt.Sprintf("| Hit Rate | %.4f |\n", s.HitRate))
		sb.WriteString(fmt.Sprintf("| Max Consecutive Misses | %d |\n", s.MaxConsecutiveMisses))
		sb.WriteString("\n")
	}

	// Feature Usage
	sb.WriteString("## Feature Usage\n\n")
	if len(r.FeatureUsage) > 0 {
		sb.WriteString("| Feature | Selected | Share |\n")
		sb.WriteString("|---------|----------|-------|\n")
		for _, u := range r.FeatureUsage {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.4f |\n", u.Feature, u.Count, u.Share))
		}
	} else {
		sb.WriteString("No features selected.\n")
	}
	sb.WriteString("\n")

	// Steps
	sb.WriteString("## Steps\n\n")
	if len(r.Steps) > 0 {
		sb.WriteString("| Step | Date | Predicted | Actual | Correlation | Train | Neighbors |\n")
		sb.WriteString("|------|------|-----------|--------|-------------|-------|-----------|\n")
		for _, st := range r.Steps {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %d | %d |\n",
				st.Step, formatDate(st.Timestamp),
				cell(st.PredictedValue), cell(st.ActualValue), cell(st.Correlation),
				st.TrainSize, st.Neighbors))
		}
	} else {
		sb.WriteString("No steps available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func cell(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func formatDate(t domain.Timestamp) string {
	return time.Unix(int64(t), 0).UTC().Format("2006-01-02")
}

func joinSymbols(symbols []domain.Symbol) string {
	names := make([]string, len(symbols))
	for i, sym := range symbols {
		names[i] = string(sym)
	}
	return strings.Join(names, ", ")
}
