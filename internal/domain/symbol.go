package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSymbol is returned when a symbol is not of the form TICKER:EXCHANGE.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Symbol identifies one tradable instrument as "TICKER:EXCHANGE".
type Symbol string

// ParseSymbol validates s and returns it as a Symbol.
func ParseSymbol(s string) (Symbol, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return Symbol(strings.ToUpper(parts[0]) + ":" + strings.ToUpper(parts[1])), nil
}

// ParseSymbols parses a list of symbols, failing on the first invalid one.
func ParseSymbols(ss []string) ([]Symbol, error) {
	out := make([]Symbol, 0, len(ss))
	for _, s := range ss {
		sym, err := ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// Ticker returns the part before the colon.
func (s Symbol) Ticker() string {
	ticker, _, _ := strings.Cut(string(s), ":")
	return ticker
}

// Exchange returns the part after the colon.
func (s Symbol) Exchange() string {
	_, exch, _ := strings.Cut(string(s), ":")
	return exch
}

// Prefix returns the namespace prepended to the symbol's feature names.
func (s Symbol) Prefix() string {
	return string(s) + ":"
}

// Feature returns the namespaced name of one of the symbol's features.
func (s Symbol) Feature(name string) string {
	return s.Prefix() + name
}
