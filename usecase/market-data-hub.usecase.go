package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/analytics"
	"github.com/spooky-finn/go-depth-bridge/config"
	"github.com/spooky-finn/go-depth-bridge/domain"
	promclient "github.com/spooky-finn/go-depth-bridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-depth-bridge/synchronizer"
)

var logger = logrus.WithField("component", "market-data-hub")

var (
	ErrHubClosed        = errors.New("market data hub is closed")
	ErrInvalidThreshold = errors.New("threshold must not be negative")
)

type DepthSubscription = domain.Subscription[*domain.MarketDepthData]

// MarketDataHub runs one synchronizer per active pair and fans the derived
// depth data out to subscribers. It is safe for concurrent use.
type MarketDataHub struct {
	ctx     context.Context
	cancel  context.CancelFunc
	conn    domain.ConnManager
	cfg     config.HubConfig
	syncCfg synchronizer.Config

	pairs *domain.PairStorage[*pairEntry]
	seeds *domain.PairStorage[*domain.MarketDepthData]

	// mu serializes pair creation and teardown.
	mu        sync.Mutex
	symbol    string
	threshold decimal.Decimal
	closed    bool
}

func NewMarketDataHub(ctx context.Context, conn domain.ConnManager, cfg *config.Config) *MarketDataHub {
	ctx, cancel := context.WithCancel(ctx)

	return &MarketDataHub{
		ctx:     ctx,
		cancel:  cancel,
		conn:    conn,
		cfg:     cfg.Hub,
		syncCfg: synchronizer.ConfigFrom(cfg.Sync),
		pairs:   domain.NewPairStorage[*pairEntry](),
		seeds:   domain.NewPairStorage[*domain.MarketDepthData](),
	}
}

// SwitchSymbol makes symbol the active instrument on both markets. Switching
// to the current symbol only applies the new threshold.
func (h *MarketDataHub) SwitchSymbol(symbol string, threshold decimal.Decimal) error {
	if threshold.IsNegative() {
		return ErrInvalidThreshold
	}

	keys := make([]domain.PairKey, 0, len(domain.MarketTypes))
	for _, market := range domain.MarketTypes {
		key, err := domain.NewPairKey(symbol, market)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	symbol = keys[0].Symbol

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	if symbol == h.symbol {
		h.threshold = threshold
		for _, key := range keys {
			if entry, err := h.pairs.Get(key); err == nil {
				entry.setThreshold(threshold)
			}
		}
		return nil
	}

	logger.WithFields(logrus.Fields{"from": h.symbol, "to": symbol}).Info("switching symbol")

	if h.symbol != "" {
		for _, market := range domain.MarketTypes {
			if entry, ok := h.pairs.Remove(domain.PairKey{Symbol: h.symbol, Market: market}); ok {
				h.stopEntry(entry)
			}
		}
	}

	h.symbol, h.threshold = symbol, threshold
	for _, key := range keys {
		entry := h.ensurePairLocked(key)
		if !entry.book.MinQuantity().Equal(threshold) {
			entry.setThreshold(threshold)
		}
	}
	return nil
}

// SetThreshold changes the display filter of one pair and republishes it
// immediately.
func (h *MarketDataHub) SetThreshold(key domain.PairKey, value decimal.Decimal) error {
	if value.IsNegative() {
		return ErrInvalidThreshold
	}

	entry, err := h.pairs.Get(key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	entry.setThreshold(value)
	return nil
}

// Subscribe returns a stream of depth data for key, starting the pair when it
// is not active and restarting it when it gave up reconnecting. The current
// value, live or seeded, is delivered first when there is one.
func (h *MarketDataHub) Subscribe(key domain.PairKey) (*DepthSubscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	entry := h.ensurePairLocked(key)
	return entry.subscribe(h.cfg.SubscriberBuffer), nil
}

// Unsubscribe stops the pair and ends every stream delivering it.
func (h *MarketDataHub) Unsubscribe(key domain.PairKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.pairs.Remove(key)
	if !ok {
		return fmt.Errorf("%s: %w", key, domain.ErrOrderBookNotFound)
	}
	h.stopEntry(entry)
	return nil
}

// Publish recomputes the depth data of key and delivers it, subject to the
// pair's rate limit and the significance filter.
func (h *MarketDataHub) Publish(key domain.PairKey) error {
	entry, err := h.pairs.Get(key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	entry.publish(false)
	return nil
}

// Seed provides cached data that new subscribers receive until the pair
// publishes live data. A nil data is ignored.
func (h *MarketDataHub) Seed(key domain.PairKey, data *domain.MarketDepthData) {
	if data == nil {
		logger.WithField("pair", key.String()).Warn("ignoring empty seed")
		return
	}
	h.seeds.Add(key, data.WithStatus(domain.ConnectionStatus{
		Pair:       key,
		State:      domain.StateDisconnected,
		Quality:    domain.QualityCached,
		LastUpdate: data.UpdatedAt,
	}))
}

// Latest returns the last published data of key, or its seed.
func (h *MarketDataHub) Latest(key domain.PairKey) (*domain.MarketDepthData, error) {
	if entry, err := h.pairs.Get(key); err == nil {
		if data := entry.latest(); data != nil {
			return data, nil
		}
	}
	if seed := h.seed(key); seed != nil {
		return seed, nil
	}
	return nil, fmt.Errorf("%s: %w", key, domain.ErrOrderBookNotFound)
}

// Query computes fresh depth data from the current book, bypassing the
// publish filters.
func (h *MarketDataHub) Query(key domain.PairKey) (*domain.MarketDepthData, error) {
	entry, err := h.pairs.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	data := entry.compute()
	data.Status = entry.sync.Status()
	return data, nil
}

func (h *MarketDataHub) Status(key domain.PairKey) (domain.ConnectionStatus, error) {
	entry, err := h.pairs.Get(key)
	if err != nil {
		return domain.ConnectionStatus{}, fmt.Errorf("%s: %w", key, err)
	}
	return entry.sync.Status(), nil
}

func (h *MarketDataHub) Pairs() []domain.PairKey {
	return h.pairs.Keys()
}

// ActiveSymbol returns the symbol selected by the last SwitchSymbol.
func (h *MarketDataHub) ActiveSymbol() (string, decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.symbol, h.threshold
}

// Close stops every pair and rejects further subscriptions.
func (h *MarketDataHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	var wg sync.WaitGroup
	for _, key := range h.pairs.Keys() {
		entry, ok := h.pairs.Remove(key)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.stopEntry(entry)
		}()
	}
	wg.Wait()

	h.cancel()
	logger.Info("market data hub closed")
}

// ensurePairLocked returns the entry of key, creating and starting it when
// absent and restarting it when it gave up. Callers hold h.mu.
func (h *MarketDataHub) ensurePairLocked(key domain.PairKey) *pairEntry {
	threshold := decimal.Zero
	if key.Symbol == h.symbol {
		threshold = h.threshold
	}

	entry, created := h.pairs.GetOrCreate(key, func() *pairEntry {
		return newPairEntry(h, key, threshold)
	})

	switch {
	case created:
		entry.sync.Start(h.ctx)
		h.updateGauges()
		logger.WithField("pair", entry.pair).Info("pair started")
	case entry.sync.Status().State == domain.StateFailed:
		logger.WithField("pair", entry.pair).Info("restarting failed pair")
		entry.sync.Start(h.ctx)
	}
	return entry
}

func (h *MarketDataHub) stopEntry(entry *pairEntry) {
	// Stop waits for the synchronizer goroutine, which calls back into
	// entry, so entry.mu must not be held here.
	entry.sync.Stop()
	entry.close()
	h.updateGauges()
	logger.WithField("pair", entry.pair).Info("pair stopped")
}

func (h *MarketDataHub) seed(key domain.PairKey) *domain.MarketDepthData {
	data, err := h.seeds.Get(key)
	if err != nil {
		return nil
	}
	return data
}

func (h *MarketDataHub) options() analytics.Options {
	return analytics.Options{
		Limit:     h.cfg.DepthLimit,
		Bands:     h.cfg.Bands,
		MidPolicy: h.cfg.MidPolicy,
	}
}

func (h *MarketDataHub) updateGauges() {
	for _, market := range domain.MarketTypes {
		promclient.OpenOrderBookGauge.WithLabelValues(string(market)).Set(float64(h.pairs.OrderBookCount(market)))
	}
}
