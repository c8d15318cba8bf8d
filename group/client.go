// Package group implements the group client request/response engine
// (C11), notification dispatch (C11.1), and the typed operation
// façade (C12) layered over a caller-supplied send function.
package group

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/internal/logger"
	"github.com/acp-sdk/acp-core/internal/metrics"
)

// DefaultTimeout is the default send_request bound (spec.md §4.11).
const DefaultTimeout = 30 * time.Second

// SendFunc delivers payload (already JSON-encoded) to targetAID. The
// caller owns the actual transport (typically the message channel,
// C9).
type SendFunc func(targetAID string, payloadJSON []byte) error

// GroupResponse is the result of a send_request call.
type GroupResponse struct {
	Action    string
	Code      int
	GroupID   string
	Data      json.RawMessage
	Error     string
	Cancelled bool
}

// pendingRequest is one in-flight send_request call. complete/cancel
// close done exactly once; wait never spawns a goroutine of its own,
// so a timed-out wait leaves nothing running behind it.
type pendingRequest struct {
	mu        sync.Mutex
	done      chan struct{}
	closed    bool
	cancelled bool
	resp      GroupResponse
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

func (p *pendingRequest) wait(timeout time.Duration) (GroupResponse, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.resp, p.cancelled
	case <-time.After(timeout):
		return GroupResponse{}, false
	}
}

func (p *pendingRequest) complete(resp GroupResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.resp = resp
	p.closed = true
	close(p.done)
}

func (p *pendingRequest) cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.cancelled = true
	p.closed = true
	close(p.done)
}

// EventHandler receives the typed group notifications described in
// spec.md §4.11.1.
type EventHandler interface {
	OnNewMessage(groupID, latestMsgID, sender, preview string)
	OnNewEvent(groupID, latestEventID, eventType, summary string)
	OnGroupInvite(groupID, groupAddress, invitedBy string)
	OnJoinApproved(groupID string)
	OnJoinRejected(groupID string)
	OnJoinRequestReceived(groupID string)
	OnGroupEvent(groupID string, event json.RawMessage)
}

// Client correlates send_request/response traffic and dispatches
// notifications and batch pushes for one AgentID's group traffic.
type Client struct {
	send SendFunc

	seqID atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	handler        EventHandler
	onMessageBatch func(groupID string, batch MessageBatch)
	eventProcessor EventProcessor

	cipher *PayloadCipher

	log logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEventHandler registers the notification dispatch target.
func WithEventHandler(h EventHandler) Option { return func(c *Client) { c.handler = h } }

// WithMessageBatchHandler registers the callback for message_batch_push frames.
func WithMessageBatchHandler(fn func(groupID string, batch MessageBatch)) Option {
	return func(c *Client) { c.onMessageBatch = fn }
}

// WithEventProcessor registers the structured group-event dispatch target.
func WithEventProcessor(p EventProcessor) Option { return func(c *Client) { c.eventProcessor = p } }

// WithLogger overrides the client's logger.
func WithLogger(l logger.Logger) Option { return func(c *Client) { c.log = l } }

// WithPayloadCipher seals every outgoing request's params and opens
// every incoming response/notification's data through cipher. Absent
// this option the client exchanges cleartext JSON, matching today's
// server behavior.
func WithPayloadCipher(cipher *PayloadCipher) Option { return func(c *Client) { c.cipher = cipher } }

// New constructs a Client that delivers requests via send.
func New(send SendFunc, opts ...Option) *Client {
	c := &Client{
		send:    send,
		pending: make(map[string]*pendingRequest),
		log:     logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextRequestId returns a monotonic seq_id rendered as a lowercase
// 16-char hex string prefixed with "r".
func (c *Client) NextRequestId() string {
	seq := c.seqID.Add(1)
	return fmt.Sprintf("r%015x", seq)
}

// SendRequest builds the request envelope, registers a pending
// request, calls send, and blocks for timeout (default
// DefaultTimeout if zero) for the correlated response.
func (c *Client) SendRequest(targetAID, groupID, action string, params map[string]any, timeout time.Duration) (GroupResponse, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	requestID := c.NextRequestId()
	body := map[string]any{"action": action, "request_id": requestID, "group_id": groupID}
	sealedParams, err := c.sealParams(params)
	if err != nil {
		return GroupResponse{}, acperr.Wrap(acperr.Unknown, "group: seal request params", err)
	}
	for k, v := range sealedParams {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return GroupResponse{}, acperr.Wrap(acperr.Unknown, "group: marshal request", err)
	}

	pr := newPendingRequest()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return GroupResponse{}, acperr.New(acperr.Unknown, "group: client closed")
	}
	c.pending[requestID] = pr
	c.mu.Unlock()

	removePending := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}

	start := time.Now()
	if err := c.send(targetAID, payload); err != nil {
		removePending()
		metrics.GroupRequests.WithLabelValues(action, "send_failed").Inc()
		return GroupResponse{}, acperr.Wrap(acperr.NetworkError, "group: send_func failed", err)
	}
	metrics.GroupRequests.WithLabelValues(action, "sent").Inc()

	resp, cancelled := pr.wait(timeout)
	removePending()
	metrics.GroupRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())

	if cancelled {
		return GroupResponse{Cancelled: true}, nil
	}
	if resp.Action == "" && resp.Data == nil && resp.Error == "" {
		metrics.GroupRequests.WithLabelValues(action, "timeout").Inc()
		return GroupResponse{}, acperr.New(acperr.ErrTimeout, fmt.Sprintf("group: %s timed out", action))
	}
	if resp.Error != "" {
		return resp, &acperr.GroupError{Action: action, Code: resp.Code, Err: resp.Error, GroupID: groupID}
	}
	return resp, nil
}

// HandleIncoming parses a top-level JSON payload and dispatches it as
// a response, notification, or batch push, in that priority order.
func (c *Client) HandleIncoming(payloadJSON []byte) {
	var top struct {
		RequestID string          `json:"request_id"`
		Action    string          `json:"action"`
		Code      int             `json:"code"`
		GroupID   string          `json:"group_id"`
		Data      json.RawMessage `json:"data"`
		Error     string          `json:"error"`
		Event     string          `json:"event"`
	}
	if err := json.Unmarshal(payloadJSON, &top); err != nil {
		c.log.Warn("group: malformed incoming payload", logger.Error(err))
		return
	}
	top.Data = c.openData(top.Data)

	if top.RequestID != "" {
		c.mu.Lock()
		pr, ok := c.pending[top.RequestID]
		c.mu.Unlock()
		if ok {
			pr.complete(GroupResponse{
				Action:  top.Action,
				Code:    top.Code,
				GroupID: top.GroupID,
				Data:    top.Data,
				Error:   top.Error,
			})
			return
		}
	}

	if top.Event != "" {
		c.dispatchNotification(top.Event, top.GroupID, top.Data)
		return
	}

	if top.Action == "message_batch_push" && top.Data != nil {
		var batchData struct {
			Messages []Message `json:"messages"`
		}
		if err := json.Unmarshal(top.Data, &batchData); err != nil {
			c.log.Warn("group: malformed message_batch_push", logger.Error(err))
			return
		}
		sort.Slice(batchData.Messages, func(i, j int) bool {
			return batchData.Messages[i].MsgID < batchData.Messages[j].MsgID
		})
		if c.onMessageBatch != nil {
			c.onMessageBatch(top.GroupID, MessageBatch{Messages: batchData.Messages})
		}
		return
	}
}

// Close marks the client closed; every pending request is cancelled
// and the map is cleared.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, pr := range pending {
		pr.cancel()
	}
}
