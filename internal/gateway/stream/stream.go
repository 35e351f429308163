// Package stream maintains the one persistent duplex connection to the venue:
// a combined websocket carrying the public candle channel and the private
// user-data channel keyed by listen key. Decoded frames are redispatched to
// the engine as typed events. A dead connection stops the engine; restart is
// delegated to the external supervisor.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"marlin/internal/logger"
	"marlin/internal/pkg/convert"
)

// KeyRenewer mints a fresh listen key when the venue expires the current one.
type KeyRenewer interface {
	CreateListenKey(ctx context.Context) (string, error)
}

type Client struct {
	wsBase   string
	symbol   string
	interval string
	renewer  KeyRenewer
	dialer   *websocket.Dialer

	events  chan Event
	mu      sync.Mutex
	conn    *websocket.Conn
	closing atomic.Bool
}

func New(wsBase, symbol, interval string, renewer KeyRenewer) *Client {
	return &Client{
		wsBase:   strings.TrimRight(wsBase, "/"),
		symbol:   strings.ToUpper(symbol),
		interval: strings.ToLower(interval),
		renewer:  renewer,
		dialer:   websocket.DefaultDialer,
		events:   make(chan Event, 64),
	}
}

func (c *Client) url(listenKey string) string {
	kline := fmt.Sprintf("%s@kline_%s", strings.ToLower(c.symbol), c.interval)
	return fmt.Sprintf("%s/stream?streams=%s/%s", c.wsBase, kline, listenKey)
}

// Start dials the combined stream and begins dispatching. Events() delivers
// until the stream dies or Close is called.
func (c *Client) Start(ctx context.Context, listenKey string) error {
	conn, err := c.dial(ctx, listenKey)
	if err != nil {
		return err
	}
	c.setConn(conn)
	go c.readLoop(ctx)
	logger.Infof("stream: connected symbol=%s interval=%s", c.symbol, c.interval)
	return nil
}

func (c *Client) Events() <-chan Event { return c.events }

// Close tears the connection down without emitting Disconnected.
func (c *Client) Close() error {
	c.closing.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) dial(ctx context.Context, listenKey string) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url(listenKey), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing stream: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return
			}
			c.emit(ctx, Disconnected{Err: err})
			return
		}
		if stop := c.handleFrame(ctx, msg); stop {
			return
		}
	}
}

// handleFrame returns true when the loop must stop (fatal renewal failure).
func (c *Client) handleFrame(ctx context.Context, msg []byte) bool {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		logger.Warnf("stream: undecodable frame dropped: %v", err)
		return false
	}
	if strings.Contains(env.Stream, "@kline_") {
		c.handleKline(ctx, env.Data)
		return false
	}
	return c.handleUserData(ctx, env.Data)
}

func (c *Client) handleKline(ctx context.Context, data json.RawMessage) {
	var f klineFrame
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Warnf("stream: bad kline frame: %v", err)
		return
	}
	if !f.Kline.Final {
		return
	}
	c.emit(ctx, CandleClosed{
		Symbol:     f.Kline.Symbol,
		Interval:   f.Kline.Interval,
		ClosePrice: convert.MustParseFloat(f.Kline.Close),
		CloseTime:  f.Kline.CloseTime,
	})
}

func (c *Client) handleUserData(ctx context.Context, data json.RawMessage) bool {
	var head userFrame
	if err := json.Unmarshal(data, &head); err != nil {
		logger.Warnf("stream: bad user frame: %v", err)
		return false
	}
	switch head.EventType {
	case "ORDER_TRADE_UPDATE":
		evt, err := decodeOrderUpdate(data)
		if err != nil {
			logger.Warnf("stream: bad order update: %v", err)
			return false
		}
		c.emit(ctx, evt)
	case "ACCOUNT_UPDATE":
		evt, err := decodeAccountUpdate(data)
		if err != nil {
			logger.Warnf("stream: bad account update: %v", err)
			return false
		}
		c.emit(ctx, evt)
	case "MARGIN_CALL":
		evt, err := decodeMarginCall(data)
		if err != nil {
			logger.Warnf("stream: bad margin call frame: %v", err)
			return false
		}
		c.emit(ctx, evt)
	case "listenKeyExpired":
		return c.renewAndRedial(ctx)
	default:
		logger.Debugf("stream: ignoring user event %q", head.EventType)
	}
	return false
}

// renewAndRedial replaces the expired listen key in place. Only renewal
// failure escalates to a full stop.
func (c *Client) renewAndRedial(ctx context.Context) bool {
	logger.Warnf("stream: listen key expired, renewing")
	if c.renewer == nil {
		c.emit(ctx, Disconnected{Err: fmt.Errorf("listen key expired and no renewer configured")})
		return true
	}
	key, err := c.renewer.CreateListenKey(ctx)
	if err != nil {
		c.emit(ctx, Disconnected{Err: fmt.Errorf("listen key renewal failed: %w", err)})
		return true
	}
	conn, err := c.dial(ctx, key)
	if err != nil {
		c.emit(ctx, Disconnected{Err: fmt.Errorf("redial after key renewal failed: %w", err)})
		return true
	}
	c.setConn(conn)
	logger.Infof("stream: reconnected with fresh listen key")
	return false
}

func (c *Client) emit(ctx context.Context, evt Event) {
	select {
	case c.events <- evt:
	case <-ctx.Done():
	}
}
