// Package websocket implements the abstracted WebSocket client (C5): a
// thin event-driven wrapper around gorilla/websocket exposing a
// connect/send/close capability set with async callbacks for text and
// binary traffic. Reconnection is intentionally out of scope here —
// the message channel (C9) owns that policy.
package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultConnectTimeout is the bounded wait for the open event that
// Connect blocks on (spec.md §4.5).
const DefaultConnectTimeout = 5 * time.Second

// Client is an abstracted text/binary WebSocket channel. The zero
// value is not usable; construct with New.
type Client struct {
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	pingInterval time.Duration
	connectWait  time.Duration

	onOpen    func()
	onMessage func(text string)
	onBinary  func(data []byte)
	onClose   func(code int, reason string)
	onError   func(err error)

	readLoopDone chan struct{}
	closeOnce    sync.Once
}

// New constructs a Client. Register callbacks with On* before calling
// Connect, since the read loop may invoke them immediately after open.
func New() *Client {
	return &Client{
		dialer:      &websocket.Dialer{HandshakeTimeout: DefaultConnectTimeout},
		connectWait: DefaultConnectTimeout,
	}
}

// OnOpen registers the callback fired once the connection is
// established.
func (c *Client) OnOpen(fn func()) { c.onOpen = fn }

// OnMessage registers the callback fired for each text frame.
func (c *Client) OnMessage(fn func(text string)) { c.onMessage = fn }

// OnBinary registers the callback fired for each binary frame.
func (c *Client) OnBinary(fn func(data []byte)) { c.onBinary = fn }

// OnClose registers the callback fired when the connection closes,
// carrying the WebSocket close code and reason if available.
func (c *Client) OnClose(fn func(code int, reason string)) { c.onClose = fn }

// OnError registers the callback fired for non-close read/write
// errors.
func (c *Client) OnError(fn func(err error)) { c.onError = fn }

// SetPingInterval configures the interval at which a ping control
// frame is sent to keep intermediaries from closing an idle
// connection. Zero disables pinging.
func (c *Client) SetPingInterval(d time.Duration) { c.pingInterval = d }

// SetVerifyTLS toggles TLS certificate verification for wss:// URLs.
// Disabling verification is intended for local/dev testing only.
func (c *Client) SetVerifyTLS(verify bool) {
	if c.dialer.TLSClientConfig == nil {
		c.dialer.TLSClientConfig = &tls.Config{}
	}
	c.dialer.TLSClientConfig.InsecureSkipVerify = !verify
}

// Connect dials url and blocks until the connection is open or
// DefaultConnectTimeout elapses. It starts the background read loop
// on success.
func (c *Client) Connect(ctx context.Context, url string, header http.Header) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectWait)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("transport/websocket: connect %s: http %d: %w", url, resp.StatusCode, err)
		}
		return fmt.Errorf("transport/websocket: connect %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.readLoopDone = make(chan struct{})
	c.mu.Unlock()

	if c.onOpen != nil {
		c.onOpen()
	}

	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop(c.pingInterval)
	}
	return nil
}

// SendText writes a single text frame.
func (c *Client) SendText(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport/websocket: send_text: not connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("transport/websocket: send_text: %w", err)
	}
	return nil
}

// SendBinary writes a single binary frame.
func (c *Client) SendBinary(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport/websocket: send_binary: not connected")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("transport/websocket: send_binary: %w", err)
	}
	return nil
}

// Close sends a normal-closure control frame and tears down the
// connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		writeErr := conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		closeErr := conn.Close()
		if writeErr != nil {
			err = writeErr
		} else {
			err = closeErr
		}
	})
	return err
}

func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	done := c.readLoopDone
	c.mu.Unlock()

	defer close(done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseNormalClosure, ""
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			} else if c.onError != nil {
				c.onError(err)
			}
			if c.onClose != nil {
				c.onClose(code, reason)
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			if c.onMessage != nil {
				c.onMessage(string(data))
			}
		case websocket.BinaryMessage:
			if c.onBinary != nil {
				c.onBinary(data)
			}
		}
	}
}

func (c *Client) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if c.onError != nil {
					c.onError(fmt.Errorf("transport/websocket: ping: %w", err))
				}
				return
			}
		case <-c.readLoopDone:
			return
		}
	}
}
