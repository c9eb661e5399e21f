package binance

import "github.com/spooky-finn/go-depth-bridge/domain"

// BinanceDepthUpdateValidator applies the spot continuity rule: the next
// event must satisfy U <= lastUpdateId+1 <= u.
type BinanceDepthUpdateValidator struct{}

func (v *BinanceDepthUpdateValidator) IsValidUpd(update *domain.OrderBookUpdate, orderBookLastUpdId int64) error {
	// Drop any event where u is <= lastUpdateId in the snapshot
	if update.FinalUpdateID <= orderBookLastUpdId {
		return domain.ErrOrderBookUpdateIsOutdated
	}

	if update.FirstUpdateID > orderBookLastUpdId+1 {
		return domain.ErrOrderBookUpdateIsOutOfSequece
	}

	return nil
}

// FuturesDepthUpdateValidator chains events by pu: every event after the
// first must carry pu equal to the previous event's u.
type FuturesDepthUpdateValidator struct{}

func (v *FuturesDepthUpdateValidator) IsValidUpd(update *domain.OrderBookUpdate, orderBookLastUpdId int64) error {
	if update.FinalUpdateID < orderBookLastUpdId {
		return domain.ErrOrderBookUpdateIsOutdated
	}

	// the first event after a snapshot straddles lastUpdateId
	if update.FirstUpdateID <= orderBookLastUpdId && update.FinalUpdateID >= orderBookLastUpdId {
		return nil
	}

	if update.PrevFinalUpdateID != orderBookLastUpdId {
		return domain.ErrOrderBookUpdateIsOutOfSequece
	}

	return nil
}

func NewDepthUpdateValidator(market domain.MarketType) domain.DepthUpdateValidator {
	if market == domain.MarketFutures {
		return &FuturesDepthUpdateValidator{}
	}
	return &BinanceDepthUpdateValidator{}
}
