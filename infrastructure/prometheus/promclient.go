package promclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "promclient")

var OpenOrderBookGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "depthbridge_open_order_books",
		Help: "number of order books currently maintained",
	},
	[]string{"market"},
)

var SyncStateGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "depthbridge_sync_state",
		Help: "1 for the current synchronizer state of a pair, 0 otherwise",
	},
	[]string{"pair", "state"},
)

var DiffsAppliedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_diffs_applied_total",
		Help: "diff events applied to the local order book",
	},
	[]string{"pair"},
)

var StaleDiffsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_stale_diffs_total",
		Help: "diff events dropped because the book was already ahead",
	},
	[]string{"pair"},
)

var OutOfSequenceCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_out_of_sequence_diffs_total",
		Help: "diff events rejected by the continuity check",
	},
	[]string{"pair"},
)

var DecodeErrorsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_decode_errors_total",
		Help: "stream frames that could not be decoded",
	},
	[]string{"pair"},
)

var SnapshotsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_snapshots_total",
		Help: "snapshots applied to the local order book",
	},
	[]string{"pair"},
)

var ReconnectsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_reconnects_total",
		Help: "reconnect attempts after transport or snapshot failures",
	},
	[]string{"pair"},
)

var ResyncsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_resyncs_total",
		Help: "forced full resyncs",
	},
	[]string{"pair"},
)

var PublishedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_published_total",
		Help: "market depth updates delivered to subscribers",
	},
	[]string{"pair"},
)

var PublishSkippedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthbridge_publish_skipped_total",
		Help: "market depth updates suppressed before delivery",
	},
	[]string{"pair", "reason"},
)

var SyncStates = []string{
	"DISCONNECTED", "CONNECTING", "SYNCING", "LIVE", "RECONNECTING", "STOPPED", "FAILED",
}

// SetSyncState marks state as the only active state of pair.
func SetSyncState(pair string, state string) {
	for _, s := range SyncStates {
		value := 0.0
		if s == state {
			value = 1
		}
		SyncStateGauge.WithLabelValues(pair, s).Set(value)
	}
}

var (
	registry     = prometheus.NewRegistry()
	registerOnce sync.Once
)

func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		registry.MustRegister(
			OpenOrderBookGauge,
			SyncStateGauge,
			DiffsAppliedCounter,
			StaleDiffsCounter,
			OutOfSequenceCounter,
			DecodeErrorsCounter,
			SnapshotsCounter,
			ReconnectsCounter,
			ResyncsCounter,
			PublishedCounter,
			PublishSkippedCounter,
			collectors.NewGoCollector(),
		)
	})
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// StartPromClientServer serves /metrics on addr until ctx is cancelled.
func StartPromClientServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("prometheus server listening at %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
