// Package message implements the WebSocket message channel (C9): a
// single reconnecting session to the group server carrying JSON
// command/data envelopes, plus request/ack correlation for the
// session-management verbs layered on top of it (C10-C12).
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/internal/logger"
	"github.com/acp-sdk/acp-core/internal/metrics"
	"github.com/acp-sdk/acp-core/transport/websocket"
)

// ConnectionState mirrors the connection lifecycle of the message
// channel, independent of the higher-level AgentState (spec.md §4.2).
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Reconnect policy constants (spec.md §4.9).
const (
	ReconnectBaseInterval = 500 * time.Millisecond
	ReconnectMaxInterval  = 10 * time.Second
	BackoffFactor         = 1.5
)

// Envelope is the JSON wire format every text frame carries.
type Envelope struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

// Handler is invoked for every inbound envelope that does not match a
// pending waiter.
type Handler func(cmd string, data json.RawMessage)

// ReconnectCallback is invoked after a successful reconnect, once the
// pending send queue has been flushed.
type ReconnectCallback func()

type waiter struct {
	cmd    string
	result chan json.RawMessage
}

// Client owns the single WebSocket connection to
// <base>/session?agent_id=...&signature=....
type Client struct {
	baseURL   string
	agentID   string
	signature string

	mu    sync.Mutex
	ws    *websocket.Client
	state ConnectionState
	queue [][]byte

	waitersMu sync.Mutex
	waiters   map[string]*waiter

	onMessage   Handler
	onReconnect ReconnectCallback

	reconnectLoopRunning atomic.Bool
	shutdownRequested    atomic.Bool

	log logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHandler registers the callback for envelopes not claimed by a
// pending waiter.
func WithHandler(fn Handler) Option { return func(c *Client) { c.onMessage = fn } }

// WithReconnectCallback registers the callback fired after a
// successful reconnect.
func WithReconnectCallback(fn ReconnectCallback) Option {
	return func(c *Client) { c.onReconnect = fn }
}

// WithLogger overrides the client's logger.
func WithLogger(l logger.Logger) Option { return func(c *Client) { c.log = l } }

// New constructs a Client for agentID against baseURL (http(s) scheme;
// rewritten to ws(s) internally) using signature as the session query
// parameter.
func New(baseURL, agentID, signature string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		agentID:   agentID,
		signature: signature,
		waiters:   make(map[string]*waiter),
		log:       logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sessionURL rewrites http->ws / https->wss and appends the session
// query string.
func (c *Client) sessionURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("message: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/session"
	q := u.Query()
	q.Set("agent_id", c.agentID)
	q.Set("signature", c.signature)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the session WebSocket and starts serving inbound
// traffic.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(Connecting)
	u, err := c.sessionURL()
	if err != nil {
		c.setState(Disconnected)
		return acperr.Wrap(acperr.WSConnectFailed, "message: build session url", err)
	}

	ws := websocket.New()
	ws.OnMessage(c.handleText)
	ws.OnClose(func(code int, reason string) { c.handleDisconnect() })
	ws.OnError(func(err error) { c.log.Warn("message: transport error", logger.Error(err)) })

	if err := ws.Connect(ctx, u, nil); err != nil {
		c.setState(Disconnected)
		metrics.WSReconnects.WithLabelValues("failure").Inc()
		return acperr.Wrap(acperr.WSConnectFailed, "message: connect", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(Connected)
	metrics.WSConnections.Inc()
	return nil
}

// Send marshals env and writes it if and only if currently Connected.
// It never implicitly queues; queueing across a reconnect is handled
// separately via the pending send queue.
func (c *Client) Send(env Envelope) bool {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || ws == nil {
		return false
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return false
	}
	if err := ws.SendText(string(raw)); err != nil {
		return false
	}
	metrics.WSMessages.WithLabelValues("outbound", "json").Inc()
	return true
}

// Enqueue appends raw bytes to the pending send queue, flushed on the
// next successful reconnect.
func (c *Client) Enqueue(raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, raw)
}

// SendAndWaitAck registers a waiter on requestID for expectedCmd,
// sends env, and blocks until a matching envelope arrives or timeout
// elapses. Returns nil on timeout or shutdown.
func (c *Client) SendAndWaitAck(env Envelope, expectedCmd, requestID string, timeout time.Duration) json.RawMessage {
	w := &waiter{cmd: expectedCmd, result: make(chan json.RawMessage, 1)}
	c.waitersMu.Lock()
	c.waiters[requestID] = w
	c.waitersMu.Unlock()
	defer func() {
		c.waitersMu.Lock()
		delete(c.waiters, requestID)
		c.waitersMu.Unlock()
	}()

	if !c.Send(env) {
		return nil
	}

	select {
	case data := <-w.result:
		return data
	case <-time.After(timeout):
		return nil
	}
}

func (c *Client) handleText(text string) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		c.log.Warn("message: malformed envelope", logger.Error(err))
		return
	}

	var peek struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(env.Data, &peek)

	if peek.RequestID != "" {
		c.waitersMu.Lock()
		w, ok := c.waiters[peek.RequestID]
		c.waitersMu.Unlock()
		if ok && w.cmd == env.Cmd {
			select {
			case w.result <- env.Data:
			default:
			}
			return
		}
	}

	metrics.WSMessages.WithLabelValues("inbound", "json").Inc()
	if c.onMessage != nil {
		metrics.EnvelopesDispatched.WithLabelValues(env.Cmd, "handled").Inc()
		c.onMessage(env.Cmd, env.Data)
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) handleDisconnect() {
	metrics.WSConnections.Dec()
	if c.shutdownRequested.Load() {
		c.setState(Disconnected)
		return
	}
	c.setState(Reconnecting)
	c.startReconnectLoop()
}

// startReconnectLoop ensures at most one reconnect loop is live at a
// time via CAS on reconnectLoopRunning.
func (c *Client) startReconnectLoop() {
	if !c.reconnectLoopRunning.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnectLoopRunning.Store(false)
		interval := ReconnectBaseInterval
		for !c.shutdownRequested.Load() {
			time.Sleep(interval)
			if c.shutdownRequested.Load() {
				return
			}
			if err := c.Connect(context.Background()); err == nil {
				metrics.WSReconnects.WithLabelValues("success").Inc()
				c.flushQueue()
				if c.onReconnect != nil {
					c.onReconnect()
				}
				return
			}
			interval = time.Duration(float64(interval) * BackoffFactor)
			if interval > ReconnectMaxInterval {
				interval = ReconnectMaxInterval
			}
		}
	}()
}

func (c *Client) flushQueue() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	ws := c.ws
	c.mu.Unlock()
	for _, raw := range pending {
		if ws != nil {
			_ = ws.SendText(string(raw))
		}
	}
}

// Shutdown sets shutdown_requested, closes the WebSocket, wakes all
// waiters with a nil result, and clears the waiter map.
func (c *Client) Shutdown() {
	c.shutdownRequested.Store(true)

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}

	c.waitersMu.Lock()
	for id, w := range c.waiters {
		select {
		case w.result <- nil:
		default:
		}
		delete(c.waiters, id)
	}
	c.waitersMu.Unlock()

	c.setState(Disconnected)
}
