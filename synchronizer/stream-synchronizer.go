// Package synchronizer keeps one local order book in step with the exchange:
// it opens the diff stream, seeds the book from a snapshot, applies diffs in
// arrival order and reconnects with backoff when the transport fails.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/config"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/helpers"
	promclient "github.com/spooky-finn/go-depth-bridge/infrastructure/prometheus"
)

var logger = logrus.WithField("component", "stream-synchronizer")

// ErrResyncRequired ends a session so the book is rebuilt from a new snapshot.
var ErrResyncRequired = errors.New("order book resync required")

type Config struct {
	SnapshotLimit        int
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int
	Jitter               float64
	HeartbeatInterval    time.Duration
	// StaleResyncThreshold is the number of consecutive rejected diffs that
	// forces a resync, 0 disables it.
	StaleResyncThreshold int
	// ResyncInterval forces a periodic full resync, 0 disables it.
	ResyncInterval time.Duration
	// BufferSize bounds the diffs kept while the snapshot is in flight.
	BufferSize int
}

func ConfigFrom(c config.SyncConfig) Config {
	return Config{
		SnapshotLimit:        c.SnapshotLimit,
		BackoffBase:          c.BackoffBase,
		BackoffCap:           c.BackoffCap,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Jitter:               c.Jitter,
		HeartbeatInterval:    c.HeartbeatInterval,
		StaleResyncThreshold: c.StaleResyncThreshold,
		ResyncInterval:       c.ResyncInterval,
		BufferSize:           c.BufferSize,
	}
}

// Observer receives book and connection changes. Calls come from the
// synchronizer goroutine and must not call Stop on the same synchronizer.
type Observer interface {
	OnBookUpdated(key domain.PairKey)
	OnStatusChanged(status domain.ConnectionStatus)
}

type noopObserver struct{}

func (noopObserver) OnBookUpdated(domain.PairKey)            {}
func (noopObserver) OnStatusChanged(domain.ConnectionStatus) {}

type snapshotResult struct {
	snapshot *domain.OrderBookSnapshot
	err      error
}

// StreamSynchronizer owns the write path of one OrderBook.
type StreamSynchronizer struct {
	key       domain.PairKey
	pair      string
	book      *domain.OrderBook
	conn      domain.ConnManager
	validator domain.DepthUpdateValidator
	observer  Observer
	cfg       Config
	logger    *logrus.Entry

	mu     sync.Mutex
	status domain.ConnectionStatus
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the run goroutine
	retry    *RetryPolicy
	rejected int
	buffer   deque.Deque[*domain.OrderBookUpdate]
}

func NewStreamSynchronizer(
	book *domain.OrderBook,
	conn domain.ConnManager,
	observer Observer,
	cfg Config,
) *StreamSynchronizer {
	if observer == nil {
		observer = noopObserver{}
	}
	key := book.Key()

	return &StreamSynchronizer{
		key:       key,
		pair:      key.String(),
		book:      book,
		conn:      conn,
		validator: conn.DepthUpdateValidator(key.Market),
		observer:  observer,
		cfg:       cfg,
		logger:    logger.WithField("pair", key.String()),
		retry:     NewRetryPolicy(cfg.BackoffBase, cfg.BackoffCap, cfg.MaxReconnectAttempts, cfg.Jitter),
		status: domain.ConnectionStatus{
			Pair:    key,
			State:   domain.StateDisconnected,
			Quality: domain.QualityDegraded,
		},
	}
}

func (s *StreamSynchronizer) Key() domain.PairKey {
	return s.key
}

func (s *StreamSynchronizer) Book() *domain.OrderBook {
	return s.book
}

func (s *StreamSynchronizer) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start launches the synchronization goroutine. It is a no-op while running
// and restarts a synchronizer that gave up.
func (s *StreamSynchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		switch s.status.State {
		case domain.StateFailed, domain.StateStopped:
			// terminal states are set right before the goroutine exits
			<-s.done
			s.cancel()
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.retry.Reset()

	go s.run(ctx, s.done)
}

// Stop cancels in-flight network calls and any pending reconnect, and waits
// until the goroutine has exited. The book is not touched after Stop returns.
func (s *StreamSynchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the goroutine started by the last Start exits.
func (s *StreamSynchronizer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *StreamSynchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.setState(domain.StateStopped, nil)
			return
		}

		if errors.Is(err, ErrResyncRequired) {
			promclient.ResyncsCounter.WithLabelValues(s.pair).Inc()
			s.logger.WithError(err).Warn("forcing full resync")
			continue
		}

		delay, ok := s.retry.Next()
		if !ok {
			s.logger.WithError(err).Errorf("giving up after %d reconnect attempts", s.retry.Attempt())
			s.setState(domain.StateFailed, err)
			return
		}

		promclient.ReconnectsCounter.WithLabelValues(s.pair).Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": s.retry.Attempt(),
			"delay":   delay,
		}).Warn("connection lost, reconnecting")
		s.setState(domain.StateReconnecting, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(domain.StateStopped, nil)
			return
		case <-timer.C:
		}
	}
}

// session runs one connect, snapshot, live cycle and returns why it ended.
func (s *StreamSynchronizer) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(domain.StateConnecting, nil)
	s.rejected = 0
	s.buffer.Clear()

	snapshots := make(chan snapshotResult, 1)
	go func() {
		snapshot, err := s.conn.SyncAPI().OrderBookSnapshot(ctx, s.key, s.cfg.SnapshotLimit)
		snapshots <- snapshotResult{snapshot: snapshot, err: err}
	}()

	stream, err := s.conn.StreamAPI().DepthDiffStream(ctx, s.key)
	if err != nil {
		return fmt.Errorf("open diff stream: %w", err)
	}
	defer stream.Close()

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Read()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	s.setState(domain.StateSyncing, nil)

	var heartbeat <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var resync <-chan time.Time
	synced := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("read diff stream: %w", err)

		case <-heartbeat:
			if err := stream.Ping(); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}

		case <-resync:
			return fmt.Errorf("%w: periodic resync", ErrResyncRequired)

		case res := <-snapshots:
			snapshots = nil
			if err := s.applySnapshot(res); err != nil {
				return err
			}
			synced = true
			if err := s.drainBuffer(); err != nil {
				return err
			}
			s.setState(domain.StateLive, nil)

			if s.cfg.ResyncInterval > 0 {
				timer := time.NewTimer(s.cfg.ResyncInterval)
				defer timer.Stop()
				resync = timer.C
			}

		case msg := <-frames:
			update, err := s.conn.StreamAPI().DecodeUpdate(msg)
			if err != nil {
				promclient.DecodeErrorsCounter.WithLabelValues(s.pair).Inc()
				s.logger.WithError(err).Warn("dropping undecodable frame")
				continue
			}
			s.onMessageExchanged(synced)

			if !synced {
				s.bufferUpdate(update)
				continue
			}
			if err := s.applyUpdate(update); err != nil {
				return err
			}
		}
	}
}

func (s *StreamSynchronizer) applySnapshot(res snapshotResult) error {
	if res.err != nil {
		return fmt.Errorf("fetch snapshot: %w", res.err)
	}

	parsed, err := res.snapshot.Parse()
	if err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	s.book.ApplySnapshot(parsed)
	promclient.SnapshotsCounter.WithLabelValues(s.pair).Inc()
	if config.DebugMode {
		s.logger.Debugf("snapshot applied, lastUpdateId=%d bids=%d asks=%d", parsed.LastUpdateID, len(parsed.Bids), len(parsed.Asks))
	}

	s.observer.OnBookUpdated(s.key)
	return nil
}

func (s *StreamSynchronizer) bufferUpdate(update *domain.OrderBookUpdate) {
	if s.cfg.BufferSize > 0 && s.buffer.Len() >= s.cfg.BufferSize {
		s.buffer.PopFront()
		s.logger.Debug("diff buffer full, dropping oldest update")
	}
	s.buffer.PushBack(update)
}

// drainBuffer replays diffs received before the snapshot. Diffs the snapshot
// already covers are expected here and do not count toward a resync.
func (s *StreamSynchronizer) drainBuffer() error {
	for s.buffer.Len() > 0 {
		update := s.buffer.PopFront()
		if update.FinalUpdateID <= s.book.LastUpdateID() {
			promclient.StaleDiffsCounter.WithLabelValues(s.pair).Inc()
			continue
		}
		if err := s.applyUpdate(update); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamSynchronizer) applyUpdate(update *domain.OrderBookUpdate) error {
	if s.validator != nil {
		if err := s.validator.IsValidUpd(update, s.book.LastUpdateID()); err != nil {
			return s.reject(update, err)
		}
	}

	if err := s.book.ApplyUpdate(update); err != nil {
		return s.reject(update, err)
	}

	s.rejected = 0
	promclient.DiffsAppliedCounter.WithLabelValues(s.pair).Inc()
	s.observer.OnBookUpdated(s.key)
	return nil
}

func (s *StreamSynchronizer) reject(update *domain.OrderBookUpdate, err error) error {
	s.rejected++
	if errors.Is(err, domain.ErrOrderBookUpdateIsOutdated) {
		promclient.StaleDiffsCounter.WithLabelValues(s.pair).Inc()
	} else {
		promclient.OutOfSequenceCounter.WithLabelValues(s.pair).Inc()
	}

	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"firstUpdateId": update.FirstUpdateID,
		"finalUpdateId": update.FinalUpdateID,
		"rejected":      s.rejected,
	})
	if config.DebugMode {
		entry = entry.WithField("update", helpers.ToJsonString(update))
	}
	entry.Debug("update rejected")

	if s.cfg.StaleResyncThreshold > 0 && s.rejected >= s.cfg.StaleResyncThreshold {
		return fmt.Errorf("%w: %d consecutive updates rejected", ErrResyncRequired, s.rejected)
	}
	return nil
}

// onMessageExchanged resets the reconnect budget once a connection has
// proven itself by delivering a decodable frame.
func (s *StreamSynchronizer) onMessageExchanged(synced bool) {
	if s.retry.Attempt() == 0 {
		return
	}
	s.retry.Reset()

	state := domain.StateSyncing
	if synced {
		state = domain.StateLive
	}
	s.setState(state, nil)
}

func (s *StreamSynchronizer) setState(state domain.SyncState, err error) {
	s.mu.Lock()
	s.status.State = state
	s.status.Connected = state == domain.StateLive
	s.status.ReconnectAttempts = s.retry.Attempt()
	if state == domain.StateLive {
		s.status.Quality = domain.QualityRealTime
		s.status.LastError = ""
	} else {
		s.status.Quality = domain.QualityDegraded
	}
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.status.LastUpdate = time.Now()
	status := s.status
	s.mu.Unlock()

	promclient.SetSyncState(s.pair, string(state))
	if state == domain.StateLive || state == domain.StateFailed || state == domain.StateStopped {
		s.logger.WithField("state", state).Info("synchronizer state changed")
	} else {
		s.logger.WithField("state", state).Debug("synchronizer state changed")
	}

	s.observer.OnStatusChanged(status)
}
