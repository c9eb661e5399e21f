package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRangeRatio is the bid/ask imbalance inside one band around the mid price.
type PriceRangeRatio struct {
	Label     string          `json:"label"`
	LowerPct  float64         `json:"lowerPct"`
	UpperPct  float64         `json:"upperPct"`
	Ratio     float64         `json:"ratio"`
	BidVolume decimal.Decimal `json:"bidVolume"`
	AskVolume decimal.Decimal `json:"askVolume"`
	Delta     decimal.Decimal `json:"delta"`
}

// MarketDepthData is what consumers receive for a pair on every publish.
type MarketDepthData struct {
	Symbol       string              `json:"symbol"`
	Market       MarketType          `json:"market"`
	Bids         []PriceLevel        `json:"bids"`
	Asks         []PriceLevel        `json:"asks"`
	MidPrice     decimal.NullDecimal `json:"midPrice"`
	Spread       decimal.NullDecimal `json:"spread"`
	MaxQuantity  decimal.Decimal     `json:"maxQuantity"`
	Ratios       []PriceRangeRatio   `json:"ratios"`
	BigOrders    []PriceLevel        `json:"bigOrders"`
	LastUpdateID int64               `json:"lastUpdateId"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	Status       ConnectionStatus    `json:"status"`
}

func (m *MarketDepthData) Key() PairKey {
	return PairKey{Symbol: m.Symbol, Market: m.Market}
}

// WithStatus returns a shallow copy carrying status. Level slices are shared
// and must be treated as read-only.
func (m *MarketDepthData) WithStatus(status ConnectionStatus) *MarketDepthData {
	cp := *m
	cp.Status = status
	return &cp
}

type SyncState string

const (
	StateDisconnected SyncState = "DISCONNECTED"
	StateConnecting   SyncState = "CONNECTING"
	StateSyncing      SyncState = "SYNCING"
	StateLive         SyncState = "LIVE"
	StateReconnecting SyncState = "RECONNECTING"
	StateStopped      SyncState = "STOPPED"
	// StateFailed is entered after the reconnect budget is spent.
	StateFailed SyncState = "FAILED"
)

type DataQuality string

const (
	QualityRealTime DataQuality = "REAL_TIME"
	QualityCached   DataQuality = "CACHED"
	QualityDegraded DataQuality = "DEGRADED"
)

type ConnectionStatus struct {
	Pair              PairKey     `json:"pair"`
	State             SyncState   `json:"state"`
	Connected         bool        `json:"connected"`
	ReconnectAttempts int         `json:"reconnectAttempts"`
	Quality           DataQuality `json:"quality"`
	LastUpdate        time.Time   `json:"lastUpdate"`
	LastError         string      `json:"lastError,omitempty"`
}
