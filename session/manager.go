package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/internal/codec"
	"github.com/acp-sdk/acp-core/internal/metrics"
	"github.com/acp-sdk/acp-core/message"
)

// DefaultAckTimeout bounds how long a session operation waits for its
// corresponding _ack envelope.
const DefaultAckTimeout = 10 * time.Second

// session is the internal, lock-guarded representation of one P2P
// session. The members slice is an ordered set: insertion order is
// preserved and duplicates are collapsed.
type session struct {
	mu        sync.Mutex
	id        string
	members   []Member
	createdAt time.Time
	updatedAt time.Time
	closed    bool
	lastMsgID string
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]Member, len(s.members))
	copy(members, s.members)
	return Info{
		SessionID: s.id,
		Members:   members,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Closed:    s.closed,
		LastMsgID: s.lastMsgID,
	}
}

func (s *session) addMember(agentID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.AgentID == agentID {
			return
		}
	}
	s.members = append(s.members, Member{AgentID: agentID, Role: role})
	s.updatedAt = time.Now()
}

func (s *session) removeMember(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.members {
		if m.AgentID == agentID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			s.updatedAt = time.Now()
			return
		}
	}
}

// Manager owns every session an AgentID is a member of. It issues
// session-management command verbs over a shared message.Client and
// tracks membership locally.
type Manager struct {
	selfAID string
	msg     *message.Client

	mu       sync.RWMutex
	sessions map[string]*session

	invalidated atomic.Bool
}

// NewManager constructs a Manager for selfAID, sending its command
// verbs over msg.
func NewManager(selfAID string, msg *message.Client) *Manager {
	return &Manager{
		selfAID:  selfAID,
		msg:      msg,
		sessions: make(map[string]*session),
	}
}

// Invalidate terminates the manager: every subsequent call returns
// AID_INVALID. Used when the owning AgentID is deleted or the SDK
// shuts down (spec.md §4.10/§4.14).
func (m *Manager) Invalidate() { m.invalidated.Store(true) }

func (m *Manager) checkInvalidated() error {
	if m.invalidated.Load() {
		return acperr.New(acperr.AIDInvalid, "session: agent identity has been invalidated")
	}
	return nil
}

func newRequestID() string {
	return uuid.NewString()
}

// CreateSession issues create_session_req, awaits create_session_ack,
// and on success registers the new session keyed by the server's
// session_id with members {self ∪ members}, self as owner.
func (m *Manager) CreateSession(members []string) (*Info, error) {
	if err := m.checkInvalidated(); err != nil {
		return nil, err
	}

	reqID := newRequestID()
	data, _ := json.Marshal(map[string]any{"request_id": reqID, "members": members})
	result := m.msg.SendAndWaitAck(message.Envelope{Cmd: "create_session_req", Data: data}, "create_session_ack", reqID, DefaultAckTimeout)
	if result == nil {
		return nil, acperr.New(acperr.WSTimeout, "session: create_session timed out")
	}

	var ack struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(result, &ack); err != nil || ack.SessionID == "" {
		return nil, acperr.Wrap(acperr.Unknown, "session: malformed create_session_ack", err)
	}

	s := &session{id: ack.SessionID, createdAt: time.Now(), updatedAt: time.Now()}
	s.addMember(m.selfAID, RoleOwner)
	for _, mem := range members {
		s.addMember(mem, RoleMember)
	}

	m.mu.Lock()
	m.sessions[ack.SessionID] = s
	m.mu.Unlock()

	info := s.info()
	return &info, nil
}

// lookup returns the session for sessionID, or SESSION_NOT_FOUND /
// SESSION_CLOSED as appropriate. allowClosed lets the read-only callers
// (GetMemberList, GetSessionInfo) see a closed session's bookkeeping.
func (m *Manager) lookup(sessionID string, allowClosed bool) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, acperr.New(acperr.SessionNotFound, fmt.Sprintf("session: unknown session %q", sessionID))
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed && !allowClosed {
		return nil, acperr.New(acperr.SessionClosed, fmt.Sprintf("session: %q is closed", sessionID))
	}
	return s, nil
}

// InviteAgent sends invite_agent_req; on ack it appends agentID with
// role "member" (idempotent on duplicate).
func (m *Manager) InviteAgent(sessionID, agentID string) error {
	if err := m.checkInvalidated(); err != nil {
		return err
	}
	s, err := m.lookup(sessionID, false)
	if err != nil {
		return err
	}

	reqID := newRequestID()
	data, _ := json.Marshal(map[string]any{"request_id": reqID, "session_id": sessionID, "agent_id": agentID})
	result := m.msg.SendAndWaitAck(message.Envelope{Cmd: "invite_agent_req", Data: data}, "invite_agent_ack", reqID, DefaultAckTimeout)
	if result == nil {
		return acperr.New(acperr.WSTimeout, "session: invite_agent timed out")
	}
	s.addMember(agentID, RoleMember)
	return nil
}

// JoinSession sends join_session_req for sessionID.
func (m *Manager) JoinSession(sessionID string) error {
	if err := m.checkInvalidated(); err != nil {
		return err
	}
	reqID := newRequestID()
	data, _ := json.Marshal(map[string]any{"request_id": reqID, "session_id": sessionID})
	if !m.msg.Send(message.Envelope{Cmd: "join_session_req", Data: data}) {
		return acperr.New(acperr.WSSendFailed, "session: join_session_req send failed")
	}
	return nil
}

// LeaveSession sends leave_session_req and removes self from the
// local member list.
func (m *Manager) LeaveSession(sessionID string) error {
	if err := m.checkInvalidated(); err != nil {
		return err
	}
	s, err := m.lookup(sessionID, false)
	if err != nil {
		return err
	}
	reqID := newRequestID()
	data, _ := json.Marshal(map[string]any{"request_id": reqID, "session_id": sessionID})
	if !m.msg.Send(message.Envelope{Cmd: "leave_session_req", Data: data}) {
		return acperr.New(acperr.WSSendFailed, "session: leave_session_req send failed")
	}
	s.removeMember(m.selfAID)
	return nil
}

// CloseSession sends close_session_req and marks the session closed;
// further sends on it fail with SESSION_CLOSED.
func (m *Manager) CloseSession(sessionID string) error {
	if err := m.checkInvalidated(); err != nil {
		return err
	}
	s, err := m.lookup(sessionID, false)
	if err != nil {
		return err
	}
	reqID := newRequestID()
	data, _ := json.Marshal(map[string]any{"request_id": reqID, "session_id": sessionID})
	if !m.msg.Send(message.Envelope{Cmd: "close_session_req", Data: data}) {
		return acperr.New(acperr.WSSendFailed, "session: close_session_req send failed")
	}
	s.mu.Lock()
	s.closed = true
	s.updatedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// EjectAgent sends eject_agent_req; on success it removes agentID.
// Ejecting a non-member is a no-op success.
func (m *Manager) EjectAgent(sessionID, agentID string) error {
	if err := m.checkInvalidated(); err != nil {
		return err
	}
	s, err := m.lookup(sessionID, false)
	if err != nil {
		return err
	}
	reqID := newRequestID()
	data, _ := json.Marshal(map[string]any{"request_id": reqID, "session_id": sessionID, "agent_id": agentID})
	if !m.msg.Send(message.Envelope{Cmd: "eject_agent_req", Data: data}) {
		return acperr.New(acperr.WSSendFailed, "session: eject_agent_req send failed")
	}
	s.removeMember(agentID)
	return nil
}

// GetMemberList returns the current member list for sessionID.
func (m *Manager) GetMemberList(sessionID string) ([]Member, error) {
	if err := m.checkInvalidated(); err != nil {
		return nil, err
	}
	s, err := m.lookup(sessionID, true)
	if err != nil {
		return nil, err
	}
	return s.info().Members, nil
}

// GetActiveSessions returns Info for every non-closed session.
func (m *Manager) GetActiveSessions() ([]Info, error) {
	if err := m.checkInvalidated(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		info := s.info()
		if !info.Closed {
			out = append(out, info)
		}
	}
	return out, nil
}

// GetSessionInfo returns Info for sessionID regardless of closed
// state.
func (m *Manager) GetSessionInfo(sessionID string) (*Info, error) {
	if err := m.checkInvalidated(); err != nil {
		return nil, err
	}
	s, err := m.lookup(sessionID, true)
	if err != nil {
		return nil, err
	}
	info := s.info()
	return &info, nil
}

// SendMessage serializes blocks as a URL-encoded JSON array inside
// session_message.message, with a millisecond-epoch timestamp.
func (m *Manager) SendMessage(sessionID string, blocks []Block) error {
	if err := m.checkInvalidated(); err != nil {
		return err
	}
	if _, err := m.lookup(sessionID, false); err != nil {
		return err
	}

	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return acperr.Wrap(acperr.Unknown, "session: marshal blocks", err)
	}
	encoded := codec.URLEncode(string(blocksJSON))

	payload := map[string]any{
		"session_id": sessionID,
		"message":    encoded,
		"timestamp":  time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(payload)
	if !m.msg.Send(message.Envelope{Cmd: "session_message", Data: data}) {
		metrics.EnvelopesDispatched.WithLabelValues("session_message", "send_failed").Inc()
		return acperr.New(acperr.WSSendFailed, "session: session_message send failed")
	}
	metrics.EnvelopesDispatched.WithLabelValues("session_message", "sent").Inc()
	return nil
}
