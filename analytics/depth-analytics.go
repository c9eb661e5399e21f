// Package analytics derives display aggregates from an order book view.
// Every function is pure and reads a single domain.BookView, so one call sees
// one consistent book state.
package analytics

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/helpers"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Band is a percent range around the mid price, e.g. {1, 2.5}.
type Band struct {
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

func (b Band) Label() string {
	return fmt.Sprintf("%s-%s%%", helpers.FormatFloat(b.Lower), helpers.FormatFloat(b.Upper))
}

func (b Band) Validate() error {
	if b.Lower < 0 || b.Upper <= 0 || b.Lower >= b.Upper || b.Lower >= 100 {
		return fmt.Errorf("invalid band %s", b.Label())
	}
	return nil
}

func DefaultBands() []Band {
	return []Band{{0, 1}, {1, 2.5}, {2.5, 5}, {5, 10}}
}

type Options struct {
	// Limit caps the number of levels per side, <= 0 means all.
	Limit     int
	Bands     []Band
	MidPolicy domain.MidPricePolicy
}

// DepthRatio measures the imbalance between bid volume in
// [mid*(1-upper/100), mid*(1-lower/100)] and ask volume in
// [mid*(1+lower/100), mid*(1+upper/100)].
// It reports false when the book has no reference price under policy.
func DepthRatio(view *domain.BookView, band Band, policy domain.MidPricePolicy) (domain.PriceRangeRatio, bool) {
	mid, ok := view.ReferencePrice(policy)
	if !ok {
		return domain.PriceRangeRatio{}, false
	}

	lower := decimal.NewFromFloat(band.Lower).Div(hundred)
	upper := decimal.NewFromFloat(band.Upper).Div(hundred)

	bidVolume := decimal.Zero
	bidFloor := mid.Mul(one.Sub(upper))
	view.WalkBidsFrom(mid.Mul(one.Sub(lower)), func(level domain.PriceLevel) bool {
		if level.Price.LessThan(bidFloor) {
			return false
		}
		bidVolume = bidVolume.Add(level.Quantity)
		return true
	})

	askVolume := decimal.Zero
	askCeiling := mid.Mul(one.Add(upper))
	view.WalkAsksFrom(mid.Mul(one.Add(lower)), func(level domain.PriceLevel) bool {
		if level.Price.GreaterThan(askCeiling) {
			return false
		}
		askVolume = askVolume.Add(level.Quantity)
		return true
	})

	return newRatio(band, bidVolume, askVolume), true
}

func newRatio(band Band, bidVolume, askVolume decimal.Decimal) domain.PriceRangeRatio {
	r := domain.PriceRangeRatio{
		Label:     band.Label(),
		LowerPct:  band.Lower,
		UpperPct:  band.Upper,
		BidVolume: bidVolume,
		AskVolume: askVolume,
		Delta:     bidVolume.Sub(askVolume),
	}

	total := bidVolume.Add(askVolume)
	if total.IsZero() {
		r.Delta = decimal.Zero
		return r
	}
	r.Ratio = r.Delta.Div(total).InexactFloat64()
	return r
}

// BigOrders returns levels of both sides with quantity >= minQuantity, ordered
// by price ascending.
func BigOrders(view *domain.BookView, minQuantity decimal.Decimal) []domain.PriceLevel {
	orders := []domain.PriceLevel{}
	collect := func(level domain.PriceLevel) bool {
		if level.Quantity.GreaterThanOrEqual(minQuantity) {
			orders = append(orders, level)
		}
		return true
	}
	view.WalkBids(collect)
	view.WalkAsks(collect)

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Price.LessThan(orders[j].Price)
	})
	return orders
}

// MaxQuantity returns the largest quantity in the given lists, or 1 when they
// are all empty so it can always be used as a divisor.
func MaxQuantity(levels ...[]domain.PriceLevel) decimal.Decimal {
	largest := decimal.Zero
	found := false
	for _, side := range levels {
		for _, level := range side {
			if !found || level.Quantity.GreaterThan(largest) {
				largest = level.Quantity
				found = true
			}
		}
	}
	if !found {
		return one
	}
	return largest
}

// Compute builds the published aggregate for a view. Bands without a
// reference price are reported as zero ratios.
func Compute(view *domain.BookView, opts Options) *domain.MarketDepthData {
	bids, asks := view.FilteredLevels(opts.Limit, view.MinQuantity)

	data := &domain.MarketDepthData{
		Symbol:       view.Key.Symbol,
		Market:       view.Key.Market,
		Bids:         bids,
		Asks:         asks,
		MaxQuantity:  MaxQuantity(bids, asks),
		BigOrders:    BigOrders(view, view.MinQuantity),
		LastUpdateID: view.LastUpdateID,
		UpdatedAt:    view.LastUpdateTime,
		Ratios:       make([]domain.PriceRangeRatio, 0, len(opts.Bands)),
	}

	if mid, ok := view.ReferencePrice(opts.MidPolicy); ok {
		data.MidPrice = decimal.NewNullDecimal(mid)
	}
	if spread, ok := view.Spread(); ok {
		data.Spread = decimal.NewNullDecimal(spread)
	}

	for _, band := range opts.Bands {
		ratio, ok := DepthRatio(view, band, opts.MidPolicy)
		if !ok {
			ratio = newRatio(band, decimal.Zero, decimal.Zero)
		}
		data.Ratios = append(data.Ratios, ratio)
	}

	return data
}
