// Package wsclient implements the reconnecting WebSocket client used to
// consume live status frames from the broadcast hub.
//
// Connection management is an explicit state machine (Disconnected ->
// Connecting -> Connected) with a manual-disconnect flag that suppresses
// auto-reconnect. Abnormal closes retry with exponential backoff and jitter
// up to a configurable attempt cap; normal closes (1000/1001) and manual
// disconnects never retry. The dialer and clock are injectable so the whole
// reconnect path is testable without real sockets or real timers.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MessageHandler receives every inbound frame as raw JSON.
type MessageHandler func(raw []byte)

// Options tune the client. Zero values fall back to production defaults;
// Dialer, Clock and Jitter exist so tests can drive the state machine
// synthetically.
type Options struct {
	ReconnectBase        time.Duration // default 3s
	MaxReconnectAttempts int           // default 3
	HeartbeatInterval    time.Duration // default 30s
	ConnectTimeout       time.Duration // default 10s

	Dialer Dialer
	Clock  Clock
	Jitter func() float64
}

// Client is a reconnecting WebSocket client. All methods are safe for
// concurrent use; at most one live transport exists at any time.
type Client struct {
	url     string
	handler MessageHandler
	opts    Options

	mu        sync.Mutex
	state     State
	conn      Conn
	manual    bool
	attempt   int
	heartbeat Timer
	reconnect Timer

	wmu sync.Mutex // serializes writes to conn
}

// NewClient creates a Client. The handler may be nil.
func NewClient(url string, handler MessageHandler, opts Options) *Client {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 3 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 3
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = NewGorillaDialer(opts.ConnectTimeout)
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Jitter == nil {
		opts.Jitter = defaultJitter
	}
	return &Client{url: url, handler: handler, opts: opts}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts a connection attempt. It is a no-op while a connection is
// already live or being established, so overlapping calls can never create
// two sockets.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.dial()
}

// dial performs one connection attempt. The caller must have moved the state
// to Connecting.
func (c *Client) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.opts.Dialer.DialContext(ctx, c.url)

	c.mu.Lock()
	if err != nil {
		c.state = StateDisconnected
		slog.Warn("websocket connect failed", "url", c.url, "error", err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	if c.manual {
		// Disconnect() raced the dial; drop the fresh socket.
		c.state = StateDisconnected
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	c.startHeartbeatLocked()
	c.mu.Unlock()

	slog.Info("websocket connected", "url", c.url)
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, closeCode(err))
			return
		}
		if c.handler != nil {
			c.handler(raw)
		}
	}
}

// closeCode extracts the close code from a read error, -1 for abnormal ends.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func (c *Client) handleClose(conn Conn, code int) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale reader from an already-replaced transport.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.stopHeartbeatLocked()
	manual := c.manual
	c.mu.Unlock()

	conn.Close()

	if manual {
		return
	}
	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		slog.Info("websocket closed", "code", code)
		return
	}

	slog.Warn("websocket closed abnormally", "code", code)
	c.mu.Lock()
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the backoff timer for the next attempt. The
// manual flag is re-checked when the timer fires: Disconnect() is the
// cancellation token for the whole reconnect loop.
func (c *Client) scheduleReconnectLocked() {
	if c.manual {
		return
	}
	if c.attempt >= c.opts.MaxReconnectAttempts {
		slog.Warn("reconnect attempts exhausted", "url", c.url, "attempts", c.attempt)
		return
	}

	delay := reconnectDelay(c.opts.ReconnectBase, c.attempt, c.opts.Jitter)
	c.attempt++
	slog.Info("scheduling reconnect", "attempt", c.attempt, "delay", delay)

	c.reconnect = c.opts.Clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.manual || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		c.dial()
	})
}

func (c *Client) startHeartbeatLocked() {
	var tick func()
	tick = func() {
		c.mu.Lock()
		if c.state != StateConnected {
			c.mu.Unlock()
			return
		}
		conn := c.conn
		c.mu.Unlock()

		frame, _ := json.Marshal(map[string]any{
			"type":      "ping",
			"timestamp": c.opts.Clock.Now().UnixMilli(),
		})
		c.wmu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, frame)
		c.wmu.Unlock()
		if err != nil {
			// The read loop will observe the broken transport and handle it.
			return
		}

		c.mu.Lock()
		if c.state == StateConnected {
			c.heartbeat = c.opts.Clock.AfterFunc(c.opts.HeartbeatInterval, tick)
		}
		c.mu.Unlock()
	}
	c.heartbeat = c.opts.Clock.AfterFunc(c.opts.HeartbeatInterval, tick)
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

// Disconnect closes the connection with a normal close code and suppresses
// any further reconnect attempts until Reconnect is called.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.attempt = 0
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		c.wmu.Unlock()
		conn.Close()
	}
}

// Reconnect clears the manual flag and the attempt counter, then connects
// immediately.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.manual = false
	c.attempt = 0
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.mu.Unlock()

	c.Connect()
}

// SendMessage encodes payload as JSON and writes it to the socket. It returns
// false, without error, when the client is not connected.
func (c *Client) SendMessage(payload any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	frame, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode outbound payload", "error", err)
		return false
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame) == nil
}

// SubscribeToItem asks the hub for item-scoped updates. The frame is sent
// only when connected.
func (c *Client) SubscribeToItem(itemID int64) bool {
	return c.SendMessage(map[string]any{
		"type":   "subscribe",
		"itemId": itemID,
	})
}
