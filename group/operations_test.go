package group

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acp-sdk/acp-core/group/cursor"
)

func TestParseGroupURL(t *testing.T) {
	targetAID, groupID, err := ParseGroupURL("acpgrp://ap.example.com/g-123")
	require.NoError(t, err)
	assert.Equal(t, "ap.example.com", targetAID)
	assert.Equal(t, "g-123", groupID)
}

func TestParseGroupURLRejectsMalformed(t *testing.T) {
	_, _, err := ParseGroupURL("not-a-url-at-all")
	assert.Error(t, err)
}

// scriptedServer answers SendRequest calls by action, synchronously,
// from the send function's own goroutine.
type scriptedServer struct {
	mu   sync.Mutex
	c    *Client
	answer func(action string, body map[string]any) map[string]any
}

func (s *scriptedServer) send(targetAID string, payload []byte) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	action, _ := body["action"].(string)
	resp := s.answer(action, body)
	resp["request_id"] = body["request_id"]
	resp["action"] = action
	resp["group_id"] = body["group_id"]
	raw, _ := json.Marshal(resp)
	go s.c.HandleIncoming(raw)
	return nil
}

func newOperations(t *testing.T, answer func(action string, body map[string]any) map[string]any) (*Operations, cursor.Store) {
	t.Helper()
	srv := &scriptedServer{answer: answer}
	c := New(srv.send)
	srv.c = c
	store, err := cursor.NewLocalStore("")
	require.NoError(t, err)
	return NewOperations(c, store), store
}

func TestCreateGroupDecodesResponse(t *testing.T) {
	ops, _ := newOperations(t, func(action string, body map[string]any) map[string]any {
		assert.Equal(t, "create_group", action)
		return map[string]any{"data": map[string]any{"group_id": "g1"}}
	})
	resp, err := ops.CreateGroup("ap.example", "team", nil)
	require.NoError(t, err)
	assert.Equal(t, "g1", resp.GroupID)
}

func TestGetInfoDedupesConcurrentIdenticalCalls(t *testing.T) {
	var calls int64
	ops, _ := newOperations(t, func(action string, body map[string]any) map[string]any {
		assert.Equal(t, "get_info", action)
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return map[string]any{"data": map[string]any{"group_id": "g1", "name": "team"}}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := ops.GetInfo("ap.example", "g1")
			assert.NoError(t, err)
			assert.Equal(t, "g1", info.GroupID)
		}()
	}
	wg.Wait()

	assert.Less(t, atomic.LoadInt64(&calls), int64(8), "singleflight should collapse concurrent identical get_info calls")
}

func TestJoinByURLReturnsImmediateStatus(t *testing.T) {
	ops, _ := newOperations(t, func(action string, body map[string]any) map[string]any {
		assert.Equal(t, "request_join", action)
		return map[string]any{"data": map[string]any{"status": "joined"}}
	})
	resp, err := ops.JoinByURL("acpgrp://ap.example/g1", "code123", "hi")
	require.NoError(t, err)
	assert.Equal(t, "joined", resp.Status)
}

func TestJoinByURLFallsBackToMembershipPolling(t *testing.T) {
	calls := 0
	ops, _ := newOperations(t, func(action string, body map[string]any) map[string]any {
		switch action {
		case "request_join":
			return map[string]any{"data": map[string]any{}}
		case "get_members":
			calls++
			if calls < 2 {
				return map[string]any{"data": map[string]any{"members": []map[string]any{}}}
			}
			return map[string]any{"data": map[string]any{"members": []map[string]any{{"agent_id": "ap.example", "role": "member"}}}}
		}
		return map[string]any{"data": map[string]any{}}
	})

	start := time.Now()
	resp, err := ops.JoinByURL("acpgrp://ap.example/g1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "joined", resp.Status)
	assert.GreaterOrEqual(t, time.Since(start), 350*time.Millisecond)
}

func TestSyncGroupPullsUntilNoMore(t *testing.T) {
	pages := [][]map[string]any{
		{{"msg_id": 1, "sender": "a.ap", "content": "one", "content_type": "text/plain", "timestamp": 1}},
		{{"msg_id": 2, "sender": "a.ap", "content": "two", "content_type": "text/plain", "timestamp": 2}},
	}
	pullCount := 0
	ops, store := newOperations(t, func(action string, body map[string]any) map[string]any {
		switch action {
		case "pull_messages":
			if pullCount >= len(pages) {
				return map[string]any{"data": map[string]any{"messages": []map[string]any{}, "has_more": false}}
			}
			msgs := pages[pullCount]
			hasMore := pullCount < len(pages)-1
			pullCount++
			return map[string]any{"data": map[string]any{"messages": msgs, "has_more": hasMore}}
		case "ack_messages":
			return map[string]any{"data": map[string]any{}}
		case "pull_events":
			return map[string]any{"data": map[string]any{"events": []map[string]any{}, "has_more": false}}
		case "ack_events":
			return map[string]any{"data": map[string]any{}}
		}
		return map[string]any{"data": map[string]any{}}
	})

	var got []Message
	handler := syncHandlerFunc{
		onMessages: func(groupID string, messages []Message) { got = append(got, messages...) },
		onEvents:   func(groupID string, events []Event) {},
	}

	err := ops.SyncGroup("ap.example", "g1", handler)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].MsgID)
	assert.Equal(t, int64(2), got[1].MsgID)

	cur, err := store.LoadCursor("g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.MsgCursor)
}

type syncHandlerFunc struct {
	onMessages func(groupID string, messages []Message)
	onEvents   func(groupID string, events []Event)
}

func (f syncHandlerFunc) OnMessages(groupID string, messages []Message) { f.onMessages(groupID, messages) }
func (f syncHandlerFunc) OnEvents(groupID string, events []Event)       { f.onEvents(groupID, events) }

func TestSyncAllDrainsEveryGroupConcurrently(t *testing.T) {
	groupMsgID := map[string]int64{"g1": 11, "g2": 22, "g3": 33}
	ops, store := newOperations(t, func(action string, body map[string]any) map[string]any {
		switch action {
		case "pull_messages":
			groupID, _ := body["group_id"].(string)
			return map[string]any{"data": map[string]any{
				"messages": []map[string]any{{"msg_id": groupMsgID[groupID], "sender": "a.ap", "content": "hi", "content_type": "text/plain", "timestamp": 1}},
				"has_more": false,
			}}
		case "pull_events", "ack_messages", "ack_events":
			return map[string]any{"data": map[string]any{"events": []map[string]any{}, "has_more": false}}
		}
		return map[string]any{"data": map[string]any{}}
	})

	var mu sync.Mutex
	seen := map[string]bool{}
	handler := syncHandlerFunc{
		onMessages: func(groupID string, messages []Message) {
			mu.Lock()
			defer mu.Unlock()
			seen[groupID] = true
		},
		onEvents: func(string, []Event) {},
	}

	require.NoError(t, ops.SyncAll("ap.example", []string{"g1", "g2", "g3"}, handler))
	assert.Equal(t, map[string]bool{"g1": true, "g2": true, "g3": true}, seen)

	for _, g := range []string{"g1", "g2", "g3"} {
		cur, err := store.LoadCursor(g)
		require.NoError(t, err)
		assert.Equal(t, groupMsgID[g], cur.MsgCursor)
	}
}
