package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/auth"
	"github.com/acp-sdk/acp-core/group"
	"github.com/acp-sdk/acp-core/group/cursor"
	"github.com/acp-sdk/acp-core/heartbeat"
	"github.com/acp-sdk/acp-core/internal/logger"
	"github.com/acp-sdk/acp-core/message"
	"github.com/acp-sdk/acp-core/session"
	"github.com/acp-sdk/acp-core/transport/udp"
)

// groupEnvelopeCmd is the message-channel command verb group traffic
// travels under (spec.md §4.11: notifications and responses arrive on
// the same WebSocket session, correlated by the group client itself).
const groupEnvelopeCmd = "group"

// identity is the material a successful create_aid/load_aid produces.
type identity struct {
	AID        string
	PrivateKey string // PEM
	CertPEM    string
}

// AgentID is one online/offline-capable identity: composition of the
// auth, heartbeat, message, session, and group subsystems (C7-C12)
// plus the lifecycle state machine described in spec.md §4.14.
type AgentID struct {
	id identity

	caBase, apBase string

	sm      *stateMachine
	validMu sync.Mutex
	invalid bool

	mu        sync.Mutex
	authC     *auth.Client
	hbC       *heartbeat.Client
	msgC      *message.Client
	sock      *udp.Socket
	sessions  *session.Manager
	groupC    *group.Client
	groupOps  *group.Operations
	sess      *auth.Session

	log logger.Logger
}

func newAgentID(id identity, caBase, apBase string, log logger.Logger) *AgentID {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &AgentID{
		id:     id,
		caBase: caBase,
		apBase: apBase,
		sm:     newStateMachine(),
		log:    log,
	}
}

// GetAID returns the identity's AID.
func (a *AgentID) GetAID() string { return a.id.AID }

// State returns the current lifecycle state.
func (a *AgentID) State() State { return a.sm.get() }

// IsOnline reports whether the identity is currently Online.
func (a *AgentID) IsOnline() bool { return a.sm.get() == Online }

// IsValid reports whether the identity has not been invalidated.
func (a *AgentID) IsValid() bool {
	a.validMu.Lock()
	defer a.validMu.Unlock()
	return !a.invalid
}

// OnStateChange registers the transition callback (old, new).
func (a *AgentID) OnStateChange(fn StateChangeHandler) { a.sm.setHandler(fn) }

func (a *AgentID) checkValid() error {
	if !a.IsValid() {
		return acperr.New(acperr.AIDInvalid, fmt.Sprintf("agent: %q has been invalidated", a.id.AID))
	}
	return nil
}

// Sessions returns the identity's P2P session manager. Non-nil only
// once Online has completed at least once.
func (a *AgentID) Sessions() *session.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions
}

// Group returns the identity's group request/response client.
func (a *AgentID) Group() *group.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groupC
}

// GroupOperations returns the identity's typed group operations façade.
func (a *AgentID) GroupOperations() *group.Operations {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groupOps
}

// Online drives C7 (sign-in) -> C8 (UDP heartbeat) + C9 (WebSocket),
// then plugs C10/C11/C12 onto the open channel. A re-entrant call
// while already Online is the documented INVALID_ARGUMENT edge case
// (spec.md §9).
func (a *AgentID) Online(ctx context.Context) error {
	if err := a.checkValid(); err != nil {
		return err
	}
	if !a.sm.transition(Connecting) {
		return acperr.New(acperr.InvalidArgument, fmt.Sprintf("agent: %q cannot go online from state %s", a.id.AID, a.sm.get()))
	}

	if !a.sm.transition(Authenticating) {
		a.sm.transition(Error)
		return acperr.New(acperr.Unknown, "agent: unexpected state transition failure")
	}

	authC := auth.New(a.apBase, auth.WithLogger(a.log))
	sess, err := authC.SignIn(ctx, auth.Identity{AgentID: a.id.AID, PrivateKey: a.id.PrivateKey, CertPEM: a.id.CertPEM})
	if err != nil {
		a.sm.transition(Error)
		return acperr.Wrap(acperr.AuthFailed, "agent: sign-in failed", err)
	}

	sock, serverAddr, err := a.dialHeartbeat(sess)
	if err != nil {
		a.sm.transition(Error)
		return err
	}

	var groupC *group.Client
	msgC := message.New(a.apBase, a.id.AID, sess.Signature, message.WithLogger(a.log), message.WithHandler(func(cmd string, data json.RawMessage) {
		if cmd == groupEnvelopeCmd && groupC != nil {
			groupC.HandleIncoming(data)
		}
	}))

	hbC := heartbeat.New(sock, serverAddr, a.id.AID, sess.SignCookie, heartbeat.WithLogger(a.log))
	hbC.Start()

	if err := msgC.Connect(ctx); err != nil {
		hbC.Stop()
		sock.Close()
		a.sm.transition(Error)
		return acperr.Wrap(acperr.WSConnectFailed, "agent: websocket connect failed", err)
	}

	sessions := session.NewManager(a.id.AID, msgC)
	cursors, _ := cursor.NewLocalStore("")
	var groupOps *group.Operations
	groupC = group.New(func(targetAID string, payloadJSON []byte) error {
		return a.sendGroupPayload(targetAID, payloadJSON)
	}, group.WithMessageBatchHandler(func(groupID string, batch group.MessageBatch) {
		if groupOps == nil || len(batch.Messages) == 0 {
			return
		}
		last := batch.Messages[len(batch.Messages)-1].MsgID
		if err := groupOps.AckMessages(a.groupServerAID(), groupID, last); err != nil {
			a.log.Warn("agent: ack_messages after batch push failed", logger.Error(err))
		}
	}))
	groupOps = group.NewOperations(groupC, cursors)

	a.mu.Lock()
	a.authC = authC
	a.sess = sess
	a.sock = sock
	a.hbC = hbC
	a.msgC = msgC
	a.sessions = sessions
	a.groupC = groupC
	a.groupOps = groupOps
	a.mu.Unlock()

	if !a.sm.transition(Online) {
		a.sm.transition(Error)
		return acperr.New(acperr.Unknown, "agent: unexpected state transition failure")
	}
	return nil
}

// dialHeartbeat binds an ephemeral local UDP socket and resolves the
// heartbeat peer address from apBase.
func (a *AgentID) dialHeartbeat(sess *auth.Session) (*udp.Socket, *net.UDPAddr, error) {
	sock, err := udp.Bind("0.0.0.0", 0)
	if err != nil {
		return nil, nil, acperr.Wrap(acperr.NetworkError, "agent: bind heartbeat socket", err)
	}
	host := sess.ServerIP
	port := sess.Port
	if host == "" {
		host = apHost(a.apBase)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		sock.Close()
		return nil, nil, acperr.Wrap(acperr.NetworkError, "agent: resolve heartbeat peer", err)
	}
	return sock, addr, nil
}

func apHost(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	return u.Hostname()
}

// groupServerAID is the target_aid (spec.md §3.3: "group.<issuer>")
// for group requests issued against this identity's own AP.
func (a *AgentID) groupServerAID() string {
	return "group." + apHost(a.apBase)
}

// sendGroupPayload wraps a group-engine request/response frame inside
// the message channel's envelope and sends it. targetAID is folded
// into the object so the server can route group traffic addressed to
// a non-local group host.
func (a *AgentID) sendGroupPayload(targetAID string, payloadJSON []byte) error {
	a.mu.Lock()
	msgC := a.msgC
	a.mu.Unlock()
	if msgC == nil {
		return acperr.New(acperr.WSDisconnected, "agent: not connected")
	}

	var obj map[string]any
	if err := json.Unmarshal(payloadJSON, &obj); err != nil {
		return acperr.Wrap(acperr.Unknown, "agent: malformed group payload", err)
	}
	obj["target_aid"] = targetAID
	raw, err := json.Marshal(obj)
	if err != nil {
		return acperr.Wrap(acperr.Unknown, "agent: marshal group payload", err)
	}

	if !msgC.Send(message.Envelope{Cmd: groupEnvelopeCmd, Data: raw}) {
		return acperr.New(acperr.WSSendFailed, "agent: group send failed")
	}
	return nil
}

// Offline tears down every owned subsystem in reverse creation order
// and returns to Offline from any state (spec.md §4.14/§4.4).
func (a *AgentID) Offline() {
	a.mu.Lock()
	authC, msgC, hbC, sock, sessions, groupC, sess := a.authC, a.msgC, a.hbC, a.sock, a.sessions, a.groupC, a.sess
	a.authC, a.msgC, a.hbC, a.sock, a.sessions, a.groupC, a.groupOps, a.sess = nil, nil, nil, nil, nil, nil, nil, nil
	a.mu.Unlock()

	if groupC != nil {
		groupC.Close()
	}
	if sessions != nil {
		sessions.Invalidate()
	}
	if msgC != nil {
		msgC.Shutdown()
	}
	if hbC != nil {
		hbC.Stop()
	}
	if sock != nil {
		sock.Close()
	}
	if authC != nil && sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = authC.SignOut(ctx, a.id.AID, sess.Signature)
		cancel()
	}

	a.sm.transition(Offline)
}

// invalidate marks the identity permanently unusable (owner deleted
// it, or the process-wide SDK shut down). It offlines the identity
// first if it was online.
func (a *AgentID) invalidate() {
	if a.IsOnline() {
		a.Offline()
	}
	a.validMu.Lock()
	a.invalid = true
	a.validMu.Unlock()
}
