package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

var ErrInvalidPriceLevel = errors.New("invalid price level")

var two = decimal.NewFromInt(2)

// PriceLevel is one rung of a ladder. A zero quantity in an update removes the price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// OrderBookSnapshot is the wire form of a full depth snapshot.
// Prices and quantities travel as decimal strings.
type OrderBookSnapshot struct {
	Source       OrderBookSource `json:"source,omitempty"`
	LastUpdateId int64           `json:"lastUpdateId"`
	Bids         [][]string      `json:"bids"`
	Asks         [][]string      `json:"asks"`
}

// DepthSnapshot is a parsed OrderBookSnapshot.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

func (s *OrderBookSnapshot) Parse() (*DepthSnapshot, error) {
	bids, err := ParsePriceLevels(s.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := ParsePriceLevels(s.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	return &DepthSnapshot{
		LastUpdateID: s.LastUpdateId,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// OrderBookUpdate is a decoded diff event.
type OrderBookUpdate struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	// PrevFinalUpdateID is only sent by futures streams, zero otherwise.
	PrevFinalUpdateID int64
	EventTime         time.Time

	Bids []PriceLevel
	Asks []PriceLevel
}

// ParsePriceLevels converts [price, quantity] string pairs into exact decimals.
// A malformed number never degrades into a zero quantity.
func ParsePriceLevels(raw [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for i, level := range raw {
		if len(level) < 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", ErrInvalidPriceLevel, i, len(level))
		}

		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, fmt.Errorf("%w: price %q: %v", ErrInvalidPriceLevel, level[0], err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: price %q is not positive", ErrInvalidPriceLevel, level[0])
		}

		quantity, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q: %v", ErrInvalidPriceLevel, level[1], err)
		}
		if quantity.IsNegative() {
			return nil, fmt.Errorf("%w: quantity %q is negative", ErrInvalidPriceLevel, level[1])
		}

		levels = append(levels, PriceLevel{Price: price, Quantity: quantity})
	}

	return levels, nil
}

func serializePriceLevels(levels []PriceLevel) [][]string {
	result := make([][]string, len(levels))
	for i, level := range levels {
		result[i] = []string{level.Price.String(), level.Quantity.String()}
	}

	return result
}

// MidPricePolicy decides what ReferencePrice returns when one side of the book is empty.
type MidPricePolicy string

const (
	// MidStrict has no reference price unless both sides are populated.
	MidStrict MidPricePolicy = "strict"
	// MidOneSided falls back to the best price of the only populated side.
	MidOneSided MidPricePolicy = "one-sided"
)

func ParseMidPricePolicy(s string) (MidPricePolicy, error) {
	switch MidPricePolicy(s) {
	case MidStrict, "":
		return MidStrict, nil
	case MidOneSided:
		return MidOneSided, nil
	}

	return "", fmt.Errorf("unknown mid price policy %q", s)
}

const ladderDegree = 32

// ladder keeps both sides ordered best-first: bids descending, asks ascending.
type ladder struct {
	bids *btree.BTreeG[PriceLevel]
	asks *btree.BTreeG[PriceLevel]
}

func newLadder() ladder {
	return ladder{
		bids: btree.NewG[PriceLevel](ladderDegree, func(a, b PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewG[PriceLevel](ladderDegree, func(a, b PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
	}
}

func (l ladder) clone() ladder {
	return ladder{bids: l.bids.Clone(), asks: l.asks.Clone()}
}

func applyLevels(side *btree.BTreeG[PriceLevel], levels []PriceLevel) {
	for _, level := range levels {
		if level.Quantity.IsZero() {
			side.Delete(level)
			continue
		}
		side.ReplaceOrInsert(level)
	}
}

func (l ladder) bestBid() (PriceLevel, bool) {
	return l.bids.Min()
}

func (l ladder) bestAsk() (PriceLevel, bool) {
	return l.asks.Min()
}

func (l ladder) midPrice() (decimal.Decimal, bool) {
	bid, okBid := l.bestBid()
	ask, okAsk := l.bestAsk()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}

	return bid.Price.Add(ask.Price).Div(two), true
}

func (l ladder) referencePrice(policy MidPricePolicy) (decimal.Decimal, bool) {
	if mid, ok := l.midPrice(); ok {
		return mid, true
	}
	if policy != MidOneSided {
		return decimal.Decimal{}, false
	}
	if bid, ok := l.bestBid(); ok {
		return bid.Price, true
	}
	if ask, ok := l.bestAsk(); ok {
		return ask.Price, true
	}

	return decimal.Decimal{}, false
}

func (l ladder) spread() (decimal.Decimal, bool) {
	bid, okBid := l.bestBid()
	ask, okAsk := l.bestAsk()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}

	return ask.Price.Sub(bid.Price), true
}

func (l ladder) filteredLevels(limit int, minQuantity decimal.Decimal) (bids, asks []PriceLevel) {
	return collectLevels(l.bids, limit, minQuantity), collectLevels(l.asks, limit, minQuantity)
}

func collectLevels(side *btree.BTreeG[PriceLevel], limit int, minQuantity decimal.Decimal) []PriceLevel {
	levels := []PriceLevel{}
	side.Ascend(func(level PriceLevel) bool {
		if level.Quantity.GreaterThanOrEqual(minQuantity) {
			levels = append(levels, level)
		}
		return limit <= 0 || len(levels) < limit
	})

	return levels
}

// OrderBook is the local replica of one pair's depth.
// Mutations and reads are serialized by a per-book RWMutex.
type OrderBook struct {
	Symbol string
	Market MarketType

	mu             sync.RWMutex
	ladder         ladder
	lastUpdateID   int64
	lastUpdateTime time.Time
	minQuantity    decimal.Decimal
}

func NewOrderBook(key PairKey, minQuantity decimal.Decimal) *OrderBook {
	return &OrderBook{
		Symbol:      key.Symbol,
		Market:      key.Market,
		ladder:      newLadder(),
		minQuantity: minQuantity,
	}
}

func (ob *OrderBook) Key() PairKey {
	return PairKey{Symbol: ob.Symbol, Market: ob.Market}
}

// ApplySnapshot replaces the whole book. It is always accepted, even when the
// snapshot is older than the current state.
func (ob *OrderBook) ApplySnapshot(snapshot *DepthSnapshot) {
	l := newLadder()
	applyLevels(l.bids, snapshot.Bids)
	applyLevels(l.asks, snapshot.Asks)

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.ladder = l
	ob.lastUpdateID = snapshot.LastUpdateID
	ob.lastUpdateTime = time.Now()
}

// ApplyDiff applies one batch of level updates atomically. A batch whose
// newLastUpdateID is not ahead of the book returns ErrOrderBookUpdateIsOutdated
// and leaves the book untouched.
func (ob *OrderBook) ApplyDiff(bids, asks []PriceLevel, newLastUpdateID int64) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if newLastUpdateID <= ob.lastUpdateID {
		return ErrOrderBookUpdateIsOutdated
	}

	applyLevels(ob.ladder.bids, bids)
	applyLevels(ob.ladder.asks, asks)

	ob.lastUpdateID = newLastUpdateID
	ob.lastUpdateTime = time.Now()
	return nil
}

func (ob *OrderBook) ApplyUpdate(update *OrderBookUpdate) error {
	return ob.ApplyDiff(update.Bids, update.Asks, update.FinalUpdateID)
}

func (ob *OrderBook) Reset() {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.ladder = newLadder()
	ob.lastUpdateID = 0
	ob.lastUpdateTime = time.Time{}
}

func (ob *OrderBook) LastUpdateID() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastUpdateID
}

func (ob *OrderBook) LastUpdateTime() time.Time {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastUpdateTime
}

func (ob *OrderBook) MinQuantity() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.minQuantity
}

func (ob *OrderBook) SetMinQuantity(value decimal.Decimal) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.minQuantity = value
}

// Depth returns the number of stored levels per side.
func (ob *OrderBook) Depth() (bids, asks int) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.bids.Len(), ob.ladder.asks.Len()
}

func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.bestBid()
}

func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.bestAsk()
}

func (ob *OrderBook) MidPrice() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.midPrice()
}

func (ob *OrderBook) ReferencePrice(policy MidPricePolicy) (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.referencePrice(policy)
}

func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.spread()
}

// FilteredLevels returns bids (descending) and asks (ascending) with quantity
// of at least minQuantity, truncated to limit. limit <= 0 disables truncation.
func (ob *OrderBook) FilteredLevels(limit int, minQuantity decimal.Decimal) (bids, asks []PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ladder.filteredLevels(limit, minQuantity)
}

// TakeSnapshot serializes the top limit levels back into the wire form.
func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids, asks := ob.ladder.filteredLevels(limit, decimal.Zero)
	return &OrderBookSnapshot{
		Source:       OrderBookSource_LocalOrderBook,
		LastUpdateId: ob.lastUpdateID,
		Bids:         serializePriceLevels(bids),
		Asks:         serializePriceLevels(asks),
	}
}

// View returns an immutable point-in-time copy of the book. Cloning the
// trees is lazy, so a view is cheap until the book is written again.
func (ob *OrderBook) View() *BookView {
	// btree Clone mutates the source tree, so it needs the write lock.
	ob.mu.Lock()
	defer ob.mu.Unlock()

	return &BookView{
		Key:            ob.Key(),
		LastUpdateID:   ob.lastUpdateID,
		LastUpdateTime: ob.lastUpdateTime,
		MinQuantity:    ob.minQuantity,
		ladder:         ob.ladder.clone(),
	}
}

// BookView is a read-only snapshot of an OrderBook. It needs no locking.
type BookView struct {
	Key            PairKey
	LastUpdateID   int64
	LastUpdateTime time.Time
	MinQuantity    decimal.Decimal

	ladder ladder
}

func (v *BookView) BestBid() (PriceLevel, bool) { return v.ladder.bestBid() }

func (v *BookView) BestAsk() (PriceLevel, bool) { return v.ladder.bestAsk() }

func (v *BookView) MidPrice() (decimal.Decimal, bool) { return v.ladder.midPrice() }

func (v *BookView) Spread() (decimal.Decimal, bool) { return v.ladder.spread() }

func (v *BookView) ReferencePrice(policy MidPricePolicy) (decimal.Decimal, bool) {
	return v.ladder.referencePrice(policy)
}

func (v *BookView) FilteredLevels(limit int, minQuantity decimal.Decimal) (bids, asks []PriceLevel) {
	return v.ladder.filteredLevels(limit, minQuantity)
}

func (v *BookView) Depth() (bids, asks int) {
	return v.ladder.bids.Len(), v.ladder.asks.Len()
}

// WalkBids visits bids from the highest price down until fn returns false.
func (v *BookView) WalkBids(fn func(PriceLevel) bool) { v.ladder.bids.Ascend(fn) }

// WalkAsks visits asks from the lowest price up until fn returns false.
func (v *BookView) WalkAsks(fn func(PriceLevel) bool) { v.ladder.asks.Ascend(fn) }

// WalkBidsFrom visits bids priced at or below price, highest first.
func (v *BookView) WalkBidsFrom(price decimal.Decimal, fn func(PriceLevel) bool) {
	v.ladder.bids.AscendGreaterOrEqual(PriceLevel{Price: price}, fn)
}

// WalkAsksFrom visits asks priced at or above price, lowest first.
func (v *BookView) WalkAsksFrom(price decimal.Decimal, fn func(PriceLevel) bool) {
	v.ladder.asks.AscendGreaterOrEqual(PriceLevel{Price: price}, fn)
}
