package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// ErrPongTimeout is returned by Ping when the server went silent.
var ErrPongTimeout = errors.New("no frames or pongs received within pong wait")

type BinanceStreamClient struct {
	dialer   *websocket.Dialer
	pongWait time.Duration
}

func NewBinanceStreamClient(handshakeTimeout, pongWait time.Duration) *BinanceStreamClient {
	return &BinanceStreamClient{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		pongWait: pongWait,
	}
}

func (c *BinanceStreamClient) Dial(ctx context.Context, url string) (*WsStream, error) {
	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	logger.WithField("url", url).Debug("diff stream connected")
	return newWsStream(conn, c.pongWait), nil
}

// WsStream is a single websocket connection. Read must be called from one
// goroutine; Ping and Close are safe to call concurrently with it.
type WsStream struct {
	conn      *websocket.Conn
	pongWait  time.Duration
	lastSeen  atomic.Int64
	closeOnce sync.Once
}

func newWsStream(conn *websocket.Conn, pongWait time.Duration) *WsStream {
	s := &WsStream{conn: conn, pongWait: pongWait}
	s.touch()
	s.extendDeadline()

	conn.SetPongHandler(func(string) error {
		s.touch()
		s.extendDeadline()
		return nil
	})
	// the server pings every few minutes and drops clients that stay silent
	conn.SetPingHandler(func(appData string) error {
		s.touch()
		s.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	return s
}

func (s *WsStream) Read() ([]byte, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	s.touch()
	s.extendDeadline()
	return msg, nil
}

// Ping sends a ping control frame and fails when nothing was heard from the
// server for longer than the pong wait.
func (s *WsStream) Ping() error {
	if s.pongWait > 0 {
		silence := time.Since(time.Unix(0, s.lastSeen.Load()))
		if silence > s.pongWait {
			return fmt.Errorf("%w (%s)", ErrPongTimeout, silence.Round(time.Millisecond))
		}
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *WsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = s.conn.Close()
	})
	return err
}

func (s *WsStream) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *WsStream) extendDeadline() {
	if s.pongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	}
}
