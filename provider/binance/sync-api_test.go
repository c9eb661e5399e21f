package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const depthResponse = `{
	"lastUpdateId": 1027024,
	"bids": [["4.00000000", "431.00000000"], ["3.99000000", "9.00000000"]],
	"asks": [["4.00000200", "12.00000000"]]
}`

func newDepthServer(t *testing.T, path string, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var received http.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = *r.Clone(context.Background())
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, &received
}

func TestBinanceSyncAPI_SpotSnapshot(t *testing.T) {
	server, received := newDepthServer(t, "/api/v3/depth", http.StatusOK, depthResponse)
	api := NewBinanceSyncAPI(server.URL, "")

	key, err := domain.NewPairKey("btcusdt", domain.MarketSpot)
	require.NoError(t, err)

	snapshot, err := api.OrderBookSnapshot(context.Background(), key, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(1027024), snapshot.LastUpdateId)
	assert.Equal(t, [][]string{{"4.00000000", "431.00000000"}, {"3.99000000", "9.00000000"}}, snapshot.Bids)
	assert.Equal(t, [][]string{{"4.00000200", "12.00000000"}}, snapshot.Asks)
	assert.Equal(t, "BTCUSDT", received.URL.Query().Get("symbol"))
	assert.Equal(t, "5", received.URL.Query().Get("limit"))

	parsed, err := snapshot.Parse()
	require.NoError(t, err)
	assert.Len(t, parsed.Bids, 2)
}

func TestBinanceSyncAPI_FuturesSnapshot(t *testing.T) {
	server, received := newDepthServer(t, "/fapi/v1/depth", http.StatusOK, depthResponse)
	api := NewBinanceSyncAPI("", server.URL)

	key, err := domain.NewPairKey("ETHUSDT", domain.MarketFutures)
	require.NoError(t, err)

	snapshot, err := api.OrderBookSnapshot(context.Background(), key, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(1027024), snapshot.LastUpdateId)
	assert.Len(t, snapshot.Bids, 2)
	assert.Len(t, snapshot.Asks, 1)
	assert.Equal(t, "ETHUSDT", received.URL.Query().Get("symbol"))
}

func TestBinanceSyncAPI_Error(t *testing.T) {
	server, _ := newDepthServer(t, "/api/v3/depth", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`)
	api := NewBinanceSyncAPI(server.URL, "")

	key, err := domain.NewPairKey("NOPE", domain.MarketSpot)
	require.NoError(t, err)

	_, err = api.OrderBookSnapshot(context.Background(), key, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol.")
}

func TestBinanceSyncAPI_ContextCanceled(t *testing.T) {
	server, _ := newDepthServer(t, "/api/v3/depth", http.StatusOK, depthResponse)
	api := NewBinanceSyncAPI(server.URL, "")

	key, err := domain.NewPairKey("BTCUSDT", domain.MarketSpot)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = api.OrderBookSnapshot(ctx, key, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
