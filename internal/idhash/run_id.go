// Package idhash computes deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"market-signal-lab/internal/domain"
)

// ComputeRunID computes a deterministic run_id from backtest parameters.
// Formula: SHA256 over the pipe-joined canonical parameters, base58-encoded.
// Symbol order is significant because it fixes the feature merge order.
func ComputeRunID(p domain.BacktestParams) string {
	return Encode(CanonicalParams(p))
}

// CanonicalParams returns the pipe-joined canonical form hashed by
// ComputeRunID.
func CanonicalParams(p domain.BacktestParams) string {
	symbols := make([]string, len(p.Symbols))
	for i, sym := range p.Symbols {
		symbols[i] = string(sym)
	}

	return fmt.Sprintf("%s|%s|%s|%d|%s|%d|%s|%d|%d|%d|%s|%d|%d|%d|%t",
		strings.Join(symbols, ","),
		p.TargetSymbol,
		p.TargetFeature,
		p.DiffWindow,
		p.DiffFunc,
		p.VarWindow,
		p.VarFunc,
		p.ForecastHorizon,
		p.StartTime,
		p.MinTrainExamples,
		strconv.FormatFloat(p.SparsityFilter, 'g', -1, 64),
		p.TopFeatures,
		p.KNearest,
		p.MaxSteps,
		p.IncludeFundamentals,
	)
}

// Encode returns the base58 SHA256 digest of data.
func Encode(data string) string {
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
