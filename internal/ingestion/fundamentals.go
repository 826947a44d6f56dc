package ingestion

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/marketdata"
)

// FundamentalRecord is one entry of a fundamentals file.
type FundamentalRecord struct {
	Symbol string  `yaml:"symbol"`
	Date   string  `yaml:"date"` // YYYY-MM-DD, stamped at the exchange close
	Metric string  `yaml:"metric"`
	Value  float64 `yaml:"value"`
}

// LoadFundamentals reads a YAML list of fundamental records. Metric names
// are lower-cased and symbols normalized.
func LoadFundamentals(r io.Reader) ([]*domain.Observation, error) {
	var records []FundamentalRecord
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode fundamentals: %w", err)
	}

	out := make([]*domain.Observation, 0, len(records))
	for i, rec := range records {
		sym, err := domain.ParseSymbol(rec.Symbol)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		ts, err := marketdata.CloseTimestamp(rec.Date)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		metric := strings.ToLower(strings.TrimSpace(rec.Metric))
		if metric == "" || !domain.IsFinite(rec.Value) {
			return nil, fmt.Errorf("record %d: missing metric or non-finite value", i)
		}
		out = append(out, &domain.Observation{
			Symbol:    sym,
			Timestamp: ts,
			Metric:    metric,
			Value:     rec.Value,
		})
	}
	return out, nil
}
