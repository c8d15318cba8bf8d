package group

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackSend wires a Client's send function straight back into
// HandleIncoming, simulating a server that mirrors whatever the test
// feeds it via respond.
type loopbackSend struct {
	mu       sync.Mutex
	lastID   string
	lastBody map[string]any
	respond  func(body map[string]any) (json.RawMessage, error)
}

func (l *loopbackSend) send(targetAID string, payload []byte) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	l.mu.Lock()
	l.lastID = body["request_id"].(string)
	l.lastBody = body
	l.mu.Unlock()
	if l.respond == nil {
		return nil
	}
	_, err := l.respond(body)
	return err
}

func TestNextRequestIdIsMonotonicAndWellFormed(t *testing.T) {
	c := New(func(string, []byte) error { return nil })
	a := c.NextRequestId()
	b := c.NextRequestId()
	assert.Len(t, a, 16)
	assert.Equal(t, byte('r'), a[0])
	assert.NotEqual(t, a, b)
}

func TestSendRequestDeliversCorrelatedResponse(t *testing.T) {
	var c *Client
	lb := &loopbackSend{respond: func(body map[string]any) (json.RawMessage, error) {
		resp, _ := json.Marshal(map[string]any{
			"request_id": body["request_id"],
			"action":     body["action"],
			"group_id":   body["group_id"],
			"data":       map[string]any{"ok": true},
		})
		go c.HandleIncoming(resp)
		return nil, nil
	}}
	c = New(lb.send)

	resp, err := c.SendRequest("peer.ap", "g1", "get_info", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "get_info", resp.Action)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Data))
}

func TestSendRequestTimesOutWithoutResponse(t *testing.T) {
	c := New(func(string, []byte) error { return nil })
	_, err := c.SendRequest("peer.ap", "g1", "get_info", nil, 20*time.Millisecond)
	require.Error(t, err)
}

func TestSendRequestSurfacesGroupError(t *testing.T) {
	var c *Client
	lb := &loopbackSend{respond: func(body map[string]any) (json.RawMessage, error) {
		resp, _ := json.Marshal(map[string]any{
			"request_id": body["request_id"],
			"action":     body["action"],
			"group_id":   body["group_id"],
			"code":       1007,
			"error":      "not a member",
		})
		go c.HandleIncoming(resp)
		return nil, nil
	}}
	c = New(lb.send)

	_, err := c.SendRequest("peer.ap", "g1", "send_message", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a member")
}

func TestCloseCancelsPendingRequests(t *testing.T) {
	c := New(func(string, []byte) error { return nil })
	done := make(chan error, 1)
	go func() {
		_, err := c.SendRequest("peer.ap", "g1", "get_info", nil, 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendRequest did not return after Close")
	}
}

func TestHandleIncomingRoutesMessageBatchPush(t *testing.T) {
	var got MessageBatch
	var gotGroup string
	c := New(func(string, []byte) error { return nil }, WithMessageBatchHandler(func(groupID string, batch MessageBatch) {
		gotGroup = groupID
		got = batch
	}))

	payload, _ := json.Marshal(map[string]any{
		"action":   "message_batch_push",
		"group_id": "g1",
		"data": map[string]any{
			"messages": []map[string]any{{"msg_id": 1, "sender": "a.ap", "content": "hi", "content_type": "text/plain", "timestamp": 1}},
		},
	})
	c.HandleIncoming(payload)

	assert.Equal(t, "g1", gotGroup)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, int64(1), got.Messages[0].MsgID)
}

func TestHandleIncomingSortsMessageBatchAscendingByMsgID(t *testing.T) {
	var got MessageBatch
	c := New(func(string, []byte) error { return nil }, WithMessageBatchHandler(func(groupID string, batch MessageBatch) {
		got = batch
	}))

	payload, _ := json.Marshal(map[string]any{
		"action":   "message_batch_push",
		"group_id": "g1",
		"data": map[string]any{
			"messages": []map[string]any{
				{"msg_id": 3, "sender": "a.ap", "content": "three", "content_type": "text/plain", "timestamp": 3},
				{"msg_id": 2, "sender": "a.ap", "content": "two", "content_type": "text/plain", "timestamp": 2},
				{"msg_id": 4, "sender": "a.ap", "content": "four", "content_type": "text/plain", "timestamp": 4},
			},
		},
	})
	c.HandleIncoming(payload)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{got.Messages[0].MsgID, got.Messages[1].MsgID, got.Messages[2].MsgID})
}
