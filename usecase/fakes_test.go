package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spooky-finn/go-depth-bridge/config"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeStream struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (f *fakeStream) Read() ([]byte, error) {
	select {
	case msg := <-f.frames:
		return msg, nil
	case <-f.closed:
		return nil, errors.New("stream closed")
	}
}

func (f *fakeStream) Ping() error { return nil }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeExchange serves snapshots and diff streams for any pair.
type fakeExchange struct {
	mu        sync.Mutex
	snapshots map[domain.PairKey]*domain.OrderBookSnapshot
	streams   map[domain.PairKey]chan *fakeStream
	fetches   map[domain.PairKey]int
	dialErr   error

	// gate, when set, holds snapshot requests until it is closed.
	gate chan struct{}
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		snapshots: make(map[domain.PairKey]*domain.OrderBookSnapshot),
		streams:   make(map[domain.PairKey]chan *fakeStream),
		fetches:   make(map[domain.PairKey]int),
	}
}

func (x *fakeExchange) SyncAPI() domain.SnapshotFetcher { return x }
func (x *fakeExchange) StreamAPI() domain.DiffTransport { return x }
func (x *fakeExchange) DepthUpdateValidator(domain.MarketType) domain.DepthUpdateValidator {
	return nil
}

func (x *fakeExchange) OrderBookSnapshot(ctx context.Context, key domain.PairKey, limit int) (*domain.OrderBookSnapshot, error) {
	x.mu.Lock()
	gate := x.gate
	x.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.fetches[key]++

	if snapshot, ok := x.snapshots[key]; ok {
		return snapshot, nil
	}
	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: 10,
		Bids:         [][]string{{"100", "2"}, {"99", "3"}},
		Asks:         [][]string{{"101", "1"}, {"102", "4"}},
	}, nil
}

func (x *fakeExchange) streamsOf(key domain.PairKey) chan *fakeStream {
	x.mu.Lock()
	defer x.mu.Unlock()

	ch, ok := x.streams[key]
	if !ok {
		ch = make(chan *fakeStream, 16)
		x.streams[key] = ch
	}
	return ch
}

func (x *fakeExchange) DepthDiffStream(ctx context.Context, key domain.PairKey) (domain.DiffStream, error) {
	x.mu.Lock()
	err := x.dialErr
	x.mu.Unlock()
	if err != nil {
		return nil, err
	}

	stream := &fakeStream{frames: make(chan []byte), closed: make(chan struct{})}
	x.streamsOf(key) <- stream
	return stream, nil
}

func (x *fakeExchange) DecodeUpdate(msg []byte) (*domain.OrderBookUpdate, error) {
	var raw struct {
		First int64      `json:"U"`
		Final int64      `json:"u"`
		Bids  [][]string `json:"b"`
		Asks  [][]string `json:"a"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	bids, err := domain.ParsePriceLevels(raw.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := domain.ParsePriceLevels(raw.Asks)
	if err != nil {
		return nil, err
	}
	return &domain.OrderBookUpdate{FirstUpdateID: raw.First, FinalUpdateID: raw.Final, Bids: bids, Asks: asks}, nil
}

func (x *fakeExchange) setDialErr(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dialErr = err
}

func (x *fakeExchange) fetchCount(key domain.PairKey) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fetches[key]
}

func (x *fakeExchange) nextStream(t *testing.T, key domain.PairKey) *fakeStream {
	t.Helper()
	select {
	case stream := <-x.streamsOf(key):
		return stream
	case <-time.After(waitFor):
		t.Fatalf("diff stream for %s was not opened", key)
		return nil
	}
}

func diffFrame(final int64, bids, asks [][]string) []byte {
	msg, _ := json.Marshal(map[string]interface{}{"U": final, "u": final, "b": bids, "a": asks})
	return msg
}

func (f *fakeStream) send(t *testing.T, msg []byte) {
	t.Helper()
	select {
	case f.frames <- msg:
	case <-time.After(waitFor):
		t.Fatal("frame was not read")
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Sync.BackoffBase = time.Millisecond
	cfg.Sync.BackoffCap = 5 * time.Millisecond
	cfg.Sync.MaxReconnectAttempts = 2
	cfg.Sync.HeartbeatInterval = 0
	cfg.Hub.SpotPublishInterval = 0
	cfg.Hub.FuturesPublishInterval = 0
	cfg.Hub.SubscriberBuffer = 64
	return cfg
}

func newTestHub(t *testing.T, cfg *config.Config) (*MarketDataHub, *fakeExchange) {
	t.Helper()
	exchange := newFakeExchange()
	hub := NewMarketDataHub(context.Background(), exchange, cfg)
	t.Cleanup(hub.Close)
	return hub, exchange
}

func pairKey(t *testing.T, symbol string, market domain.MarketType) domain.PairKey {
	t.Helper()
	key, err := domain.NewPairKey(symbol, market)
	require.NoError(t, err)
	return key
}

// receiveUntil reads the stream until match accepts a value.
func receiveUntil(t *testing.T, stream <-chan *domain.MarketDepthData, match func(*domain.MarketDepthData) bool) *domain.MarketDepthData {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case data, ok := <-stream:
			require.True(t, ok, "stream closed before a matching value arrived")
			if match(data) {
				return data
			}
		case <-timeout:
			t.Fatal("no matching value received")
			return nil
		}
	}
}

func isLive(data *domain.MarketDepthData) bool {
	return data.Status.State == domain.StateLive && data.MidPrice.Valid
}
