package binance

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/domain"
)

var logger = logrus.WithField("component", "binance")

// BinanceSyncAPI fetches depth snapshots over REST, spot from /api/v3/depth
// and futures from /fapi/v1/depth.
type BinanceSyncAPI struct {
	spot    *binance.Client
	futures *futures.Client
}

// NewBinanceSyncAPI builds anonymous clients; empty URLs keep the library defaults.
func NewBinanceSyncAPI(spotURL, futuresURL string) *BinanceSyncAPI {
	spot := binance.NewClient("", "")
	if spotURL != "" {
		spot.BaseURL = spotURL
	}

	fut := futures.NewClient("", "")
	if futuresURL != "" {
		fut.BaseURL = futuresURL
	}

	return &BinanceSyncAPI{spot: spot, futures: fut}
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, key domain.PairKey, limit int) (*domain.OrderBookSnapshot, error) {
	logger.WithFields(logrus.Fields{"pair": key.String(), "limit": limit}).Debug("requesting depth snapshot")

	if key.IsFutures() {
		res, err := api.futures.NewDepthService().Symbol(key.Symbol).Limit(limit).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance futures depth %s: %w", key.Symbol, err)
		}

		return &domain.OrderBookSnapshot{
			Source:       domain.OrderBookSource_Provider,
			LastUpdateId: res.LastUpdateID,
			Bids:         rawLevels(len(res.Bids), func(i int) (string, string) { return res.Bids[i].Price, res.Bids[i].Quantity }),
			Asks:         rawLevels(len(res.Asks), func(i int) (string, string) { return res.Asks[i].Price, res.Asks[i].Quantity }),
		}, nil
	}

	res, err := api.spot.NewDepthService().Symbol(key.Symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance spot depth %s: %w", key.Symbol, err)
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: res.LastUpdateID,
		Bids:         rawLevels(len(res.Bids), func(i int) (string, string) { return res.Bids[i].Price, res.Bids[i].Quantity }),
		Asks:         rawLevels(len(res.Asks), func(i int) (string, string) { return res.Asks[i].Price, res.Asks[i].Quantity }),
	}, nil
}

func rawLevels(n int, at func(i int) (string, string)) [][]string {
	levels := make([][]string, n)
	for i := range levels {
		price, quantity := at(i)
		levels[i] = []string{price, quantity}
	}
	return levels
}
