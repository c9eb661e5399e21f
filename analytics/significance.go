package analytics

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/domain"
)

// ChangeThresholds configures HasSignificantChange. Price and quantity
// thresholds are relative (0.001 is 0.1%), RatioChange is absolute.
type ChangeThresholds struct {
	PriceChange         float64 `yaml:"priceChange"`
	TopLevels           int     `yaml:"topLevels"`
	LevelPriceChange    float64 `yaml:"levelPriceChange"`
	LevelQuantityChange float64 `yaml:"levelQuantityChange"`
	RatioChange         float64 `yaml:"ratioChange"`
}

func DefaultChangeThresholds() ChangeThresholds {
	return ChangeThresholds{
		PriceChange:         0.001,
		TopLevels:           3,
		LevelPriceChange:    0.001,
		LevelQuantityChange: 0.2,
		RatioChange:         0.05,
	}
}

// HasSignificantChange reports whether next differs enough from the last
// published prev to be worth delivering.
func HasSignificantChange(prev, next *domain.MarketDepthData, t ChangeThresholds) bool {
	if prev == nil {
		return true
	}

	if prev.MidPrice.Valid != next.MidPrice.Valid {
		return true
	}
	if next.MidPrice.Valid && relativeChange(prev.MidPrice.Decimal, next.MidPrice.Decimal) > t.PriceChange {
		return true
	}

	if topLevelsChanged(prev.Bids, next.Bids, t) || topLevelsChanged(prev.Asks, next.Asks, t) {
		return true
	}

	if len(prev.Ratios) != len(next.Ratios) {
		return true
	}
	for i := range next.Ratios {
		if math.Abs(next.Ratios[i].Ratio-prev.Ratios[i].Ratio) > t.RatioChange {
			return true
		}
	}

	return false
}

func topLevelsChanged(prev, next []domain.PriceLevel, t ChangeThresholds) bool {
	prev, next = head(prev, t.TopLevels), head(next, t.TopLevels)
	if len(prev) != len(next) {
		return true
	}

	for i := range next {
		if relativeChange(prev[i].Price, next[i].Price) > t.LevelPriceChange {
			return true
		}
		if relativeChange(prev[i].Quantity, next[i].Quantity) > t.LevelQuantityChange {
			return true
		}
	}
	return false
}

func head(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if n > 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}

func relativeChange(prev, next decimal.Decimal) float64 {
	if prev.IsZero() {
		if next.IsZero() {
			return 0
		}
		return math.Inf(1)
	}
	return next.Sub(prev).Abs().Div(prev.Abs()).InexactFloat64()
}
