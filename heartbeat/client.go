// Package heartbeat implements the UDP keep-alive loop (C8): a sender
// goroutine that emits HEARTBEAT_REQ on an interval and a receiver
// goroutine that dispatches HEARTBEAT_RESP and INVITE_REQ frames
// arriving on the same socket.
package heartbeat

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acp-sdk/acp-core/internal/logger"
	"github.com/acp-sdk/acp-core/internal/metrics"
	"github.com/acp-sdk/acp-core/transport/udp"
)

// DefaultIntervalMs is the heartbeat cadence used until the server
// requests a different one, and the floor any server-provided
// interval is clamped to.
const DefaultIntervalMs = 5000

// tickInterval is how often the sender loop wakes to check whether
// the next heartbeat is due (spec.md §4.8: "every second").
const tickInterval = time.Second

// InviteHandler is invoked for each INVITE_REQ frame received. The
// client automatically echoes INVITE_RESP once the handler returns.
type InviteHandler func(req udp.InviteReq)

// ReauthFunc refreshes the cached credentials (server_ip, port,
// sign_cookie) when the server reports a heartbeat 401.
type ReauthFunc func(ctx context.Context) (serverAddr *net.UDPAddr, signCookie uint64, err error)

// Client runs the sender/receiver goroutine pair for a single
// AgentID's heartbeat channel.
type Client struct {
	sock       *udp.Socket
	serverAddr *net.UDPAddr
	agentID    string

	mu             sync.Mutex
	signCookie     uint64
	intervalMs     uint64
	lastSend       time.Time
	messageSeq     uint64

	invite   InviteHandler
	reauth   ReauthFunc

	running   atomic.Bool
	sending   atomic.Bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
	log       logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithInviteHandler registers the callback invoked for INVITE_REQ
// frames.
func WithInviteHandler(fn InviteHandler) Option {
	return func(c *Client) { c.invite = fn }
}

// WithReauth registers the callback invoked when the server reports a
// heartbeat 401.
func WithReauth(fn ReauthFunc) Option {
	return func(c *Client) { c.reauth = fn }
}

// WithLogger overrides the client's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New constructs a Client bound to sock, targeting serverAddr, for
// agentID, with the initial sign cookie from a completed sign-in.
func New(sock *udp.Socket, serverAddr *net.UDPAddr, agentID string, signCookie uint64, opts ...Option) *Client {
	c := &Client{
		sock:       sock,
		serverAddr: serverAddr,
		agentID:    agentID,
		signCookie: signCookie,
		intervalMs: DefaultIntervalMs,
		log:        logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the sender and receiver goroutines.
func (c *Client) Start() {
	c.running.Store(true)
	c.sending.Store(true)
	c.wg.Add(2)
	go c.senderLoop()
	go c.receiverLoop()
}

// Stop flips is_sending/is_running false, closes the socket to
// unblock the receiver, and joins both goroutines.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.sending.Store(false)
		c.running.Store(false)
		c.sock.Close()
	})
	c.wg.Wait()
}

func (c *Client) senderLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !c.sending.Load() {
			return
		}
		c.mu.Lock()
		due := time.Since(c.lastSend) >= time.Duration(c.intervalMs)*time.Millisecond
		if !due {
			c.mu.Unlock()
			continue
		}
		c.messageSeq++
		seq := c.messageSeq
		signCookie := c.signCookie
		c.lastSend = time.Now()
		c.mu.Unlock()

		req := udp.HeartbeatReq{AgentID: c.agentID, SignCookie: signCookie}
		frame := udp.Encode(udp.Frame{Mask: 0, Seq: seq, Type: udp.TypeHeartbeatReq, Payload: req.Encode()})
		if err := c.sock.SendTo(frame, c.serverAddr); err != nil {
			c.log.Warn("heartbeat: send_to failed", logger.String("agent_id", c.agentID), logger.Error(err))
			metrics.HeartbeatsFailed.WithLabelValues("network").Inc()
			continue
		}
		metrics.HeartbeatsSent.Inc()
	}
}

func (c *Client) receiverLoop() {
	defer c.wg.Done()
	buf := make([]byte, 65536)

	for {
		if !c.running.Load() {
			return
		}
		n, _, err := c.sock.RecvFrom(buf)
		if err != nil {
			// Closed socket unblocks RecvFrom; exit quietly when shutting down.
			return
		}
		frame, _, err := udp.Decode(buf[:n])
		if err != nil {
			c.log.Warn("heartbeat: decode failed, dropping frame", logger.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame udp.Frame) {
	switch frame.Type {
	case udp.TypeHeartbeatResp:
		resp, err := udp.DecodeHeartbeatResp(frame.Payload)
		if err != nil {
			c.log.Warn("heartbeat: malformed HEARTBEAT_RESP", logger.Error(err))
			return
		}
		c.handleHeartbeatResp(resp)
	case udp.TypeInviteReq:
		req, err := udp.DecodeInviteReq(frame.Payload)
		if err != nil {
			c.log.Warn("heartbeat: malformed INVITE_REQ", logger.Error(err))
			return
		}
		c.handleInviteReq(req)
	}
}

func (c *Client) handleHeartbeatResp(resp udp.HeartbeatResp) {
	if resp.NextBeatMs == udp.ReauthRequired {
		metrics.HeartbeatsFailed.WithLabelValues("reauth_required").Inc()
		if c.reauth == nil {
			c.log.Error("heartbeat: re-auth required but no reauth handler configured", logger.String("agent_id", c.agentID))
			return
		}
		addr, cookie, err := c.reauth(context.Background())
		if err != nil {
			c.log.Error("heartbeat: re-auth failed", logger.String("agent_id", c.agentID), logger.Error(err))
			return
		}
		c.mu.Lock()
		c.serverAddr = addr
		c.signCookie = cookie
		c.mu.Unlock()
		return
	}

	interval := resp.NextBeatMs
	if interval < DefaultIntervalMs {
		interval = DefaultIntervalMs
	}
	c.mu.Lock()
	c.intervalMs = interval
	c.mu.Unlock()
}

func (c *Client) handleInviteReq(req udp.InviteReq) {
	metrics.InvitesReceived.Inc()
	if c.invite != nil {
		c.invite(req)
	}
	resp := udp.InviteResp{
		AgentID:        c.agentID,
		InviterAgentID: req.InviterAID,
		SessionID:      req.SessionID,
		SignCookie:     c.currentSignCookie(),
	}
	frame := udp.Encode(udp.Frame{Mask: 0, Seq: c.nextSeq(), Type: udp.TypeInviteResp, Payload: resp.Encode()})
	if err := c.sock.SendTo(frame, c.serverAddr); err != nil {
		c.log.Warn("heartbeat: failed to echo INVITE_RESP", logger.Error(err))
	}
}

func (c *Client) currentSignCookie() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signCookie
}

func (c *Client) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageSeq++
	return c.messageSeq
}

// IntervalMs returns the currently active heartbeat interval.
func (c *Client) IntervalMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervalMs
}
