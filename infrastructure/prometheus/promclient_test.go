package promclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSyncState(t *testing.T) {
	SetSyncState("BTCUSDT_SPOT", "SYNCING")
	SetSyncState("BTCUSDT_SPOT", "LIVE")

	assert.Equal(t, 1.0, testutil.ToFloat64(SyncStateGauge.WithLabelValues("BTCUSDT_SPOT", "LIVE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SyncStateGauge.WithLabelValues("BTCUSDT_SPOT", "SYNCING")))
}

func TestHandler(t *testing.T) {
	StaleDiffsCounter.WithLabelValues("ETHUSDT_FUTURES").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `depthbridge_stale_diffs_total{pair="ETHUSDT_FUTURES"}`), "metrics output should contain the stale counter")
	assert.True(t, strings.Contains(body, "go_goroutines"), "go collector should be registered")
}
