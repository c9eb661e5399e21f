package domain

import (
	"fmt"
	"strings"
)

type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketFutures MarketType = "FUTURES"
)

var MarketTypes = []MarketType{MarketSpot, MarketFutures}

func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(strings.ToUpper(strings.TrimSpace(s))) {
	case MarketSpot:
		return MarketSpot, nil
	case MarketFutures:
		return MarketFutures, nil
	}

	return "", fmt.Errorf("unknown market type %q", s)
}

// PairKey identifies one order book: an exchange instrument on a market.
// It is a value type and can be used as a map key.
type PairKey struct {
	Symbol string
	Market MarketType
}

func NewPairKey(symbol string, market MarketType) (PairKey, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return PairKey{}, fmt.Errorf("symbol must not be empty")
	}
	if strings.ContainsAny(symbol, "_/ ") {
		return PairKey{}, fmt.Errorf("symbol %q must not contain separators", symbol)
	}

	m, err := ParseMarketType(string(market))
	if err != nil {
		return PairKey{}, err
	}

	return PairKey{Symbol: symbol, Market: m}, nil
}

// ParsePairKey parses the "BTCUSDT_SPOT" form produced by PairKey.String.
func ParsePairKey(s string) (PairKey, error) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return PairKey{}, fmt.Errorf("invalid pair key %q", s)
	}

	return NewPairKey(s[:i], MarketType(s[i+1:]))
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s_%s", k.Symbol, k.Market)
}

// StreamName is the lowercase instrument name used by stream endpoints.
func (k PairKey) StreamName() string {
	return strings.ToLower(k.Symbol)
}

func (k PairKey) IsFutures() bool {
	return k.Market == MarketFutures
}
