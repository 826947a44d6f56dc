package domain

// Observation is one raw numeric value reported by a market-data provider.
// Prices and fundamentals share this shape; Metric is the lower-cased
// column name (open, high, low, close, volume, eps, ...).
type Observation struct {
	Symbol    Symbol
	Timestamp Timestamp // exchange close, seconds since epoch
	Metric    string
	Value     float64
}
