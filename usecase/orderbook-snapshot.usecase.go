package usecase

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/domain"
)

// OrderBookSnapshot returns the top limit levels of the local order book.
// While the local book is not live the exchange snapshot is returned instead,
// and an unknown pair is started so later calls are served locally.
func (h *MarketDataHub) OrderBookSnapshot(ctx context.Context, key domain.PairKey, limit int) (*domain.OrderBookSnapshot, error) {
	entry, err := h.pairs.Get(key)
	if err == nil && entry.sync.Status().State == domain.StateLive {
		return entry.book.TakeSnapshot(limit), nil
	}

	if err != nil {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrHubClosed
		}
		h.ensurePairLocked(key)
		h.mu.Unlock()
	}

	logger.WithFields(logrus.Fields{"pair": key.String(), "limit": limit}).
		Info("orderbook is initing, provider's snapshot returns")

	fetchLimit := limit
	if fetchLimit <= 0 {
		fetchLimit = h.syncCfg.SnapshotLimit
	}
	return h.conn.SyncAPI().OrderBookSnapshot(ctx, key, fetchLimit)
}
