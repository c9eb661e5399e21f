package analytics

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/stretchr/testify/assert"
)

func depthData(mid string, ratio float64, bids, asks []domain.PriceLevel) *domain.MarketDepthData {
	data := &domain.MarketDepthData{
		Bids:   bids,
		Asks:   asks,
		Ratios: []domain.PriceRangeRatio{{Label: "0-1%", Ratio: ratio}},
	}
	if mid != "" {
		data.MidPrice = decimal.NewNullDecimal(d(mid))
	}
	return data
}

func TestHasSignificantChange(t *testing.T) {
	bids := []domain.PriceLevel{lvl("99", "1"), lvl("98", "2"), lvl("97", "3"), lvl("96", "4")}
	asks := []domain.PriceLevel{lvl("101", "1"), lvl("102", "2"), lvl("103", "3")}
	base := depthData("100", 0.1, bids, asks)

	tests := []struct {
		name     string
		prev     *domain.MarketDepthData
		next     *domain.MarketDepthData
		expected bool
	}{
		{"NoPrevious", nil, base, true},
		{"Identical", base, depthData("100", 0.1, bids, asks), false},
		{"SmallMidMove", base, depthData("100.05", 0.1, bids, asks), false},
		{"LargeMidMove", base, depthData("100.2", 0.1, bids, asks), true},
		{"MidDisappears", base, depthData("", 0.1, bids, asks), true},
		{"SmallRatioMove", base, depthData("100", 0.14, bids, asks), false},
		{"LargeRatioMove", base, depthData("100", 0.2, bids, asks), true},
		{
			"TopLevelQuantityJump", base,
			depthData("100", 0.1, []domain.PriceLevel{lvl("99", "1.5"), lvl("98", "2"), lvl("97", "3")}, asks),
			true,
		},
		{
			"TopLevelSmallQuantityChange", base,
			depthData("100", 0.1, []domain.PriceLevel{lvl("99", "1.1"), lvl("98", "2"), lvl("97", "3"), lvl("96", "4")}, asks),
			false,
		},
		{
			"ChangeBelowTopLevels", base,
			depthData("100", 0.1, []domain.PriceLevel{lvl("99", "1"), lvl("98", "2"), lvl("97", "3"), lvl("96", "40")}, asks),
			false,
		},
		{
			"TopLevelPriceShift", base,
			depthData("100", 0.1, bids, []domain.PriceLevel{lvl("101", "1"), lvl("102.5", "2"), lvl("103", "3")}),
			true,
		},
		{
			"TopLevelsShrink", base,
			depthData("100", 0.1, bids, []domain.PriceLevel{lvl("101", "1"), lvl("102", "2")}),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HasSignificantChange(tt.prev, tt.next, DefaultChangeThresholds()))
		})
	}
}
