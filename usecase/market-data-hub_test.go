package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/domain"
	promclient "github.com/spooky-finn/go-depth-bridge/infrastructure/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bestBidMoved = diffFrame(11, [][]string{{"100.4", "5"}}, nil)
	mid100_5     = decimal.RequireFromString("100.5")
)

func subscribeLive(t *testing.T, hub *MarketDataHub, exchange *fakeExchange, key domain.PairKey) (*DepthSubscription, *fakeStream) {
	t.Helper()
	sub, err := hub.Subscribe(key)
	require.NoError(t, err)
	stream := exchange.nextStream(t, key)
	receiveUntil(t, sub.Stream, isLive)
	return sub, stream
}

func TestMarketDataHub_SwitchSymbol(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())

	require.NoError(t, hub.SwitchSymbol("btcusdt", decimal.NewFromInt(1)))
	spot := pairKey(t, "BTCUSDT", domain.MarketSpot)
	futures := pairKey(t, "BTCUSDT", domain.MarketFutures)
	spotStream := exchange.nextStream(t, spot)
	futuresStream := exchange.nextStream(t, futures)

	assert.ElementsMatch(t, []domain.PairKey{spot, futures}, hub.Pairs())
	symbol, threshold := hub.ActiveSymbol()
	assert.Equal(t, "BTCUSDT", symbol)
	assert.True(t, decimal.NewFromInt(1).Equal(threshold))

	t.Run("same symbol only changes the threshold", func(t *testing.T) {
		require.NoError(t, hub.SwitchSymbol("BTCUSDT", decimal.NewFromInt(3)))

		assert.ElementsMatch(t, []domain.PairKey{spot, futures}, hub.Pairs())
		assert.False(t, spotStream.isClosed())
		for _, key := range []domain.PairKey{spot, futures} {
			entry, err := hub.pairs.Get(key)
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(3).Equal(entry.book.MinQuantity()))
		}
	})

	t.Run("new symbol replaces both pairs", func(t *testing.T) {
		require.NoError(t, hub.SwitchSymbol("ethusdt", decimal.Zero))

		ethSpot := pairKey(t, "ETHUSDT", domain.MarketSpot)
		ethFutures := pairKey(t, "ETHUSDT", domain.MarketFutures)
		exchange.nextStream(t, ethSpot)
		exchange.nextStream(t, ethFutures)

		assert.ElementsMatch(t, []domain.PairKey{ethSpot, ethFutures}, hub.Pairs())
		assert.True(t, spotStream.isClosed())
		assert.True(t, futuresStream.isClosed())
		_, err := hub.Status(spot)
		assert.ErrorIs(t, err, domain.ErrOrderBookNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.ErrorIs(t, hub.SwitchSymbol("ethusdt", decimal.NewFromInt(-1)), ErrInvalidThreshold)
		assert.Error(t, hub.SwitchSymbol("", decimal.Zero))
	})
}

func TestMarketDataHub_SubscribeStartsPair(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "SUBUSDT", domain.MarketFutures)

	sub, err := hub.Subscribe(key)
	require.NoError(t, err)
	assert.Equal(t, key.String(), sub.Topic)
	assert.NotEmpty(t, sub.ID)
	exchange.nextStream(t, key)

	data := receiveUntil(t, sub.Stream, isLive)
	assert.True(t, mid100_5.Equal(data.MidPrice.Decimal))
	assert.True(t, decimal.NewFromInt(1).Equal(data.Spread.Decimal))
	assert.Equal(t, domain.QualityRealTime, data.Status.Quality)
	assert.Equal(t, key, data.Key())
	assert.Contains(t, hub.Pairs(), key)

	status, err := hub.Status(key)
	require.NoError(t, err)
	assert.True(t, status.Connected)
}

func TestMarketDataHub_PublishesDiffs(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "DIFFUSDT", domain.MarketSpot)
	sub, stream := subscribeLive(t, hub, exchange, key)

	stream.send(t, bestBidMoved)

	data := receiveUntil(t, sub.Stream, func(d *domain.MarketDepthData) bool {
		return d.LastUpdateID == 11
	})
	require.NotEmpty(t, data.Bids)
	assert.True(t, decimal.RequireFromString("100.4").Equal(data.Bids[0].Price))
	assert.True(t, decimal.RequireFromString("100.7").Equal(data.MidPrice.Decimal))

	latest, err := hub.Latest(key)
	require.NoError(t, err)
	assert.Equal(t, int64(11), latest.LastUpdateID)

	queried, err := hub.Query(key)
	require.NoError(t, err)
	assert.Equal(t, domain.StateLive, queried.Status.State)
	assert.Equal(t, int64(11), queried.LastUpdateID)
}

func TestMarketDataHub_SkipsInsignificantChanges(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "QUIETUSDT", domain.MarketSpot)
	_, stream := subscribeLive(t, hub, exchange, key)

	skipped := promclient.PublishSkippedCounter.WithLabelValues(key.String(), skipInsignificant)
	before := testutil.ToFloat64(skipped)

	// a small quantity change on the second bid moves nothing that matters
	stream.send(t, diffFrame(11, [][]string{{"99", "3.1"}}, nil))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(skipped) == before+1
	}, waitFor, tick)

	latest, err := hub.Latest(key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), latest.LastUpdateID)
}

func TestMarketDataHub_RateLimitKeepsFinalState(t *testing.T) {
	cfg := testConfig()
	cfg.Hub.SpotPublishInterval = 200 * time.Millisecond
	hub, exchange := newTestHub(t, cfg)
	key := pairKey(t, "RATEUSDT", domain.MarketSpot)
	sub, stream := subscribeLive(t, hub, exchange, key)

	limited := promclient.PublishSkippedCounter.WithLabelValues(key.String(), skipRateLimited)
	before := testutil.ToFloat64(limited)

	stream.send(t, bestBidMoved)
	stream.send(t, diffFrame(12, [][]string{{"100.45", "1"}}, nil))

	data := receiveUntil(t, sub.Stream, func(d *domain.MarketDepthData) bool {
		return d.LastUpdateID == 12
	})
	assert.True(t, decimal.RequireFromString("100.45").Equal(data.Bids[0].Price))
	assert.GreaterOrEqual(t, testutil.ToFloat64(limited), before+1)
}

func TestMarketDataHub_SetThreshold(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "THRUSDT", domain.MarketSpot)
	sub, _ := subscribeLive(t, hub, exchange, key)

	require.NoError(t, hub.SetThreshold(key, decimal.RequireFromString("2.5")))

	data := receiveUntil(t, sub.Stream, func(d *domain.MarketDepthData) bool {
		return len(d.Bids) == 1
	})
	assert.True(t, decimal.NewFromInt(99).Equal(data.Bids[0].Price))
	require.Len(t, data.Asks, 1)
	assert.True(t, decimal.NewFromInt(102).Equal(data.Asks[0].Price))

	assert.ErrorIs(t, hub.SetThreshold(key, decimal.NewFromInt(-1)), ErrInvalidThreshold)
	unknown := pairKey(t, "NONEUSDT", domain.MarketSpot)
	assert.ErrorIs(t, hub.SetThreshold(unknown, decimal.Zero), domain.ErrOrderBookNotFound)
	assert.ErrorIs(t, hub.Publish(unknown), domain.ErrOrderBookNotFound)
}

func TestMarketDataHub_FailedPairRestartsOnSubscribe(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "FAILUSDT", domain.MarketSpot)
	exchange.setDialErr(errors.New("connection refused"))

	first, err := hub.Subscribe(key)
	require.NoError(t, err)

	failed := receiveUntil(t, first.Stream, func(d *domain.MarketDepthData) bool {
		return d.Status.State == domain.StateFailed
	})
	assert.Contains(t, failed.Status.LastError, "connection refused")
	assert.False(t, failed.Status.Connected)

	exchange.setDialErr(nil)
	second, err := hub.Subscribe(key)
	require.NoError(t, err)
	exchange.nextStream(t, key)

	receiveUntil(t, second.Stream, isLive)
	receiveUntil(t, first.Stream, isLive)
}

func TestMarketDataHub_Unsubscribe(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "UNSUBUSDT", domain.MarketSpot)
	sub, stream := subscribeLive(t, hub, exchange, key)

	require.NoError(t, hub.Unsubscribe(key))

	var last *domain.MarketDepthData
	for data := range sub.Stream {
		last = data
	}
	require.NotNil(t, last)
	assert.Equal(t, domain.StateStopped, last.Status.State)
	assert.True(t, stream.isClosed())
	assert.NotContains(t, hub.Pairs(), key)
	assert.ErrorIs(t, hub.Unsubscribe(key), domain.ErrOrderBookNotFound)

	// a late cancel of an already closed subscription is harmless
	sub.Unsubscribe()
}

func TestMarketDataHub_SubscriptionCancel(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "CANCELUSDT", domain.MarketSpot)
	sub, stream := subscribeLive(t, hub, exchange, key)
	other, err := hub.Subscribe(key)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Stream:
			return !ok
		default:
			return false
		}
	}, waitFor, tick)

	assert.Contains(t, hub.Pairs(), key)
	assert.False(t, stream.isClosed())

	stream.send(t, bestBidMoved)
	receiveUntil(t, other.Stream, func(d *domain.MarketDepthData) bool {
		return d.LastUpdateID == 11
	})
}

func TestMarketDataHub_NilSeedIsIgnored(t *testing.T) {
	hub, _ := newTestHub(t, testConfig())
	key := pairKey(t, "NILUSDT", domain.MarketSpot)

	assert.NotPanics(t, func() { hub.Seed(key, nil) })
	_, err := hub.Latest(key)
	assert.ErrorIs(t, err, domain.ErrOrderBookNotFound)
}

func TestMarketDataHub_SeedIsDeliveredFirst(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "SEEDUSDT", domain.MarketSpot)

	release := make(chan struct{})
	exchange.mu.Lock()
	exchange.gate = release
	exchange.mu.Unlock()

	cachedAt := time.Now().Add(-time.Minute)
	hub.Seed(key, &domain.MarketDepthData{
		Symbol:    key.Symbol,
		Market:    key.Market,
		MidPrice:  decimal.NewNullDecimal(decimal.NewFromInt(90)),
		UpdatedAt: cachedAt,
	})

	seeded, err := hub.Latest(key)
	require.NoError(t, err)
	assert.Equal(t, domain.QualityCached, seeded.Status.Quality)

	sub, err := hub.Subscribe(key)
	require.NoError(t, err)

	select {
	case first := <-sub.Stream:
		assert.Equal(t, domain.QualityCached, first.Status.Quality)
		assert.True(t, decimal.NewFromInt(90).Equal(first.MidPrice.Decimal))
		assert.Equal(t, cachedAt, first.UpdatedAt)
	case <-time.After(waitFor):
		t.Fatal("seed was not delivered")
	}

	close(release)
	live := receiveUntil(t, sub.Stream, isLive)
	assert.Equal(t, domain.QualityRealTime, live.Status.Quality)
	assert.True(t, mid100_5.Equal(live.MidPrice.Decimal))
}

func TestMarketDataHub_OrderBookSnapshot(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "SNAPUSDT", domain.MarketFutures)
	ctx := context.Background()

	fromProvider, err := hub.OrderBookSnapshot(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderBookSource_Provider, fromProvider.Source)
	assert.Contains(t, hub.Pairs(), key)
	exchange.nextStream(t, key)

	require.Eventually(t, func() bool {
		status, err := hub.Status(key)
		return err == nil && status.State == domain.StateLive
	}, waitFor, tick)

	local, err := hub.OrderBookSnapshot(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderBookSource_LocalOrderBook, local.Source)
	assert.Equal(t, int64(10), local.LastUpdateId)
	assert.Equal(t, [][]string{{"100", "2"}}, local.Bids)
	assert.Equal(t, [][]string{{"101", "1"}}, local.Asks)
	assert.GreaterOrEqual(t, exchange.fetchCount(key), 2)
}

func TestMarketDataHub_Close(t *testing.T) {
	hub, exchange := newTestHub(t, testConfig())
	key := pairKey(t, "CLOSEUSDT", domain.MarketSpot)
	sub, stream := subscribeLive(t, hub, exchange, key)

	hub.Close()
	hub.Close()

	for range sub.Stream {
	}
	assert.True(t, stream.isClosed())
	assert.Empty(t, hub.Pairs())

	_, err := hub.Subscribe(key)
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, hub.SwitchSymbol("btcusdt", decimal.Zero), ErrHubClosed)
	_, err = hub.OrderBookSnapshot(context.Background(), key, 10)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestDeliverLatest(t *testing.T) {
	ch := make(chan *domain.MarketDepthData, 1)
	first := &domain.MarketDepthData{LastUpdateID: 1}
	second := &domain.MarketDepthData{LastUpdateID: 2}

	deliverLatest(ch, first)
	deliverLatest(ch, second)

	require.Len(t, ch, 1)
	assert.Same(t, second, <-ch)
}
