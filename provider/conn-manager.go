package provider

import (
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/config"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/provider/binance"
)

var logger = logrus.WithField("component", "conn-manager")

// ConnectionManager hands the synchronizers their exchange collaborators.
type ConnectionManager struct {
	BinanceWC        *binance.BinanceStreamClient
	BinanceSyncAPI   *binance.BinanceSyncAPI
	BinanceStreamAPI *binance.BinanceStreamAPI

	strictSequence bool
}

func NewConnectionManager(cfg *config.Config) *ConnectionManager {
	binanceStreamClient := binance.NewBinanceStreamClient(cfg.Binance.DialTimeout, cfg.Sync.PongWait)

	logger.WithFields(logrus.Fields{
		"spotWs":         cfg.Binance.SpotWsURL,
		"futuresWs":      cfg.Binance.FuturesWsURL,
		"strictSequence": cfg.Sync.StrictSequence,
	}).Info("binance connection manager configured")

	return &ConnectionManager{
		BinanceWC:      binanceStreamClient,
		BinanceSyncAPI: binance.NewBinanceSyncAPI(cfg.Binance.SpotRestURL, cfg.Binance.FuturesRestURL),
		BinanceStreamAPI: binance.NewBinanceStreamAPI(
			binanceStreamClient,
			cfg.Binance.SpotWsURL,
			cfg.Binance.FuturesWsURL,
			cfg.Binance.UpdateSpeed,
		),
		strictSequence: cfg.Sync.StrictSequence,
	}
}

func (cm *ConnectionManager) SyncAPI() domain.SnapshotFetcher {
	return cm.BinanceSyncAPI
}

func (cm *ConnectionManager) StreamAPI() domain.DiffTransport {
	return cm.BinanceStreamAPI
}

// DepthUpdateValidator is nil unless strict sequencing is on; the order book
// still drops diffs that are not newer than its last update.
func (cm *ConnectionManager) DepthUpdateValidator(market domain.MarketType) domain.DepthUpdateValidator {
	if !cm.strictSequence {
		return nil
	}
	return binance.NewDepthUpdateValidator(market)
}
