package message

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEchoServer(t *testing.T, onEnvelope func(env Envelope) *Envelope) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice.acp-core.pub", r.URL.Query().Get("agent_id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if reply := onEnvelope(env); reply != nil {
				raw, _ := json.Marshal(reply)
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					return
				}
			}
		}
	}))
}

func httpToWS(u string) string { return "http" + strings.TrimPrefix(u, "http") }

func TestSendAndWaitAckDeliversMatchingEnvelope(t *testing.T) {
	srv := sessionEchoServer(t, func(env Envelope) *Envelope {
		if env.Cmd == "create_session_req" {
			data, _ := json.Marshal(map[string]string{"request_id": "req-1", "session_id": "sess-1"})
			return &Envelope{Cmd: "create_session_ack", Data: data}
		}
		return nil
	})
	defer srv.Close()

	c := New(httpToWS(srv.URL), "alice.acp-core.pub", "sig-abc")
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	data, _ := json.Marshal(map[string]string{"request_id": "req-1"})
	result := c.SendAndWaitAck(Envelope{Cmd: "create_session_req", Data: data}, "create_session_ack", "req-1", 2*time.Second)
	require.NotNil(t, result)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.Equal(t, "sess-1", parsed["session_id"])
}

func TestSendAndWaitAckTimesOut(t *testing.T) {
	srv := sessionEchoServer(t, func(env Envelope) *Envelope { return nil })
	defer srv.Close()

	c := New(httpToWS(srv.URL), "alice.acp-core.pub", "sig-abc")
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	data, _ := json.Marshal(map[string]string{"request_id": "req-2"})
	result := c.SendAndWaitAck(Envelope{Cmd: "join_session_req", Data: data}, "join_session_ack", "req-2", 100*time.Millisecond)
	assert.Nil(t, result)
}

func TestUnclaimedEnvelopeGoesToHandler(t *testing.T) {
	srv := sessionEchoServer(t, func(env Envelope) *Envelope { return nil })
	defer srv.Close()

	received := make(chan string, 1)
	c := New(httpToWS(srv.URL), "alice.acp-core.pub", "sig-abc", WithHandler(func(cmd string, data json.RawMessage) {
		received <- cmd
	}))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	// The echo server cannot push an unsolicited notification on its own, so
	// feed an envelope straight into the inbound dispatch path instead.
	c.handleText(`{"cmd":"session_message","data":{"hello":"world"}}`)

	select {
	case cmd := <-received:
		assert.Equal(t, "session_message", cmd)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestSendFailsWhenDisconnected(t *testing.T) {
	c := New("http://unused.invalid", "alice.acp-core.pub", "sig")
	ok := c.Send(Envelope{Cmd: "session_message"})
	assert.False(t, ok)
}

func TestShutdownWakesWaitersWithNilResult(t *testing.T) {
	srv := sessionEchoServer(t, func(env Envelope) *Envelope { return nil })
	defer srv.Close()

	c := New(httpToWS(srv.URL), "alice.acp-core.pub", "sig-abc")
	require.NoError(t, c.Connect(context.Background()))

	resultCh := make(chan json.RawMessage, 1)
	go func() {
		data, _ := json.Marshal(map[string]string{"request_id": "req-3"})
		resultCh <- c.SendAndWaitAck(Envelope{Cmd: "leave_session_req", Data: data}, "leave_session_ack", "req-3", 5*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	c.Shutdown()

	select {
	case result := <-resultCh:
		assert.Nil(t, result)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken on shutdown")
	}
}
