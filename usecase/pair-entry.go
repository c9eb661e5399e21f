package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/analytics"
	"github.com/spooky-finn/go-depth-bridge/domain"
	promclient "github.com/spooky-finn/go-depth-bridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-depth-bridge/synchronizer"
	"golang.org/x/time/rate"
)

const (
	skipRateLimited   = "rate_limited"
	skipInsignificant = "insignificant"
)

// pairEntry is the hub's state for one pair. It observes its own
// synchronizer, so publishes run on the synchronizer goroutine.
type pairEntry struct {
	hub     *MarketDataHub
	key     domain.PairKey
	pair    string
	book    *domain.OrderBook
	sync    *synchronizer.StreamSynchronizer
	limiter *rate.Limiter

	mu          sync.Mutex
	subscribers map[string]chan *domain.MarketDepthData
	last        *domain.MarketDepthData
	status      domain.ConnectionStatus
	flush       *time.Timer
	closed      bool
}

func newPairEntry(h *MarketDataHub, key domain.PairKey, threshold decimal.Decimal) *pairEntry {
	e := &pairEntry{
		hub:         h,
		key:         key,
		pair:        key.String(),
		book:        domain.NewOrderBook(key, threshold),
		limiter:     newLimiter(h.cfg.PublishInterval(key.Market)),
		subscribers: make(map[string]chan *domain.MarketDepthData),
		status: domain.ConnectionStatus{
			Pair:    key,
			State:   domain.StateDisconnected,
			Quality: domain.QualityDegraded,
		},
	}
	e.sync = synchronizer.NewStreamSynchronizer(e.book, h.conn, e, h.syncCfg)
	return e
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func (e *pairEntry) OnBookUpdated(domain.PairKey) {
	e.publish(false)
}

// OnStatusChanged delivers the status with the last data right away; status
// changes are never rate limited or filtered.
func (e *pairEntry) OnStatusChanged(status domain.ConnectionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.status = status

	data := e.last
	if data == nil {
		if seed := e.hub.seed(e.key); seed != nil {
			status.Quality = domain.QualityCached
			data = seed
		} else {
			data = e.compute()
		}
	}

	e.last = data.WithStatus(status)
	e.broadcast(e.last)
}

func (e *pairEntry) setThreshold(value decimal.Decimal) {
	e.book.SetMinQuantity(value)
	e.publish(true)
}

// publish delivers fresh depth data. force skips the rate limit and the
// significance filter.
func (e *pairEntry) publish(force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked(force, false)
}

func (e *pairEntry) publishLocked(force, reserved bool) {
	if e.closed {
		return
	}

	if !force && !reserved && !e.limiter.Allow() {
		promclient.PublishSkippedCounter.WithLabelValues(e.pair, skipRateLimited).Inc()
		e.scheduleFlush()
		return
	}

	data := e.compute()
	data.Status = e.status
	if !force && !analytics.HasSignificantChange(e.last, data, e.hub.cfg.Significance) {
		promclient.PublishSkippedCounter.WithLabelValues(e.pair, skipInsignificant).Inc()
		return
	}

	e.last = data
	e.broadcast(data)
	promclient.PublishedCounter.WithLabelValues(e.pair).Inc()
}

// scheduleFlush publishes once more when the limiter allows it, so the final
// state of a burst is not lost.
func (e *pairEntry) scheduleFlush() {
	if e.flush != nil {
		return
	}

	delay := e.limiter.Reserve().Delay()
	e.flush = time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.flush = nil
		e.publishLocked(false, true)
	})
}

func (e *pairEntry) compute() *domain.MarketDepthData {
	return analytics.Compute(e.book.View(), e.hub.options())
}

func (e *pairEntry) latest() *domain.MarketDepthData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *pairEntry) subscribe(buffer int) *DepthSubscription {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan *domain.MarketDepthData, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		close(ch)
	} else {
		e.subscribers[id] = ch

		initial := e.last
		if initial == nil {
			initial = e.hub.seed(e.key)
		}
		if initial != nil {
			ch <- initial
		}
	}

	return &DepthSubscription{
		ID:          id,
		Stream:      ch,
		Unsubscribe: func() { e.removeSubscriber(id) },
		Topic:       e.pair,
	}
}

func (e *pairEntry) removeSubscriber(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.subscribers[id]; ok {
		delete(e.subscribers, id)
		close(ch)
	}
}

func (e *pairEntry) broadcast(data *domain.MarketDepthData) {
	for _, ch := range e.subscribers {
		deliverLatest(ch, data)
	}
}

// deliverLatest never blocks: a full channel loses its oldest pending value.
func deliverLatest(ch chan *domain.MarketDepthData, data *domain.MarketDepthData) {
	select {
	case ch <- data:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- data:
	default:
	}
}

func (e *pairEntry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	if e.flush != nil {
		e.flush.Stop()
		e.flush = nil
	}
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
}
