package group

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	newMessageGroup, newMessageMsgID string
	inviteGroup, invitedBy           string
	joinApprovedGroup                string
	groupEvent                       json.RawMessage
}

func (r *recordingHandler) OnNewMessage(groupID, latestMsgID, sender, preview string) {
	r.newMessageGroup, r.newMessageMsgID = groupID, latestMsgID
}
func (r *recordingHandler) OnNewEvent(groupID, latestEventID, eventType, summary string) {}
func (r *recordingHandler) OnGroupInvite(groupID, groupAddress, invitedBy string) {
	r.inviteGroup, r.invitedBy = groupID, invitedBy
}
func (r *recordingHandler) OnJoinApproved(groupID string) { r.joinApprovedGroup = groupID }
func (r *recordingHandler) OnJoinRejected(groupID string) {}
func (r *recordingHandler) OnJoinRequestReceived(groupID string) {}
func (r *recordingHandler) OnGroupEvent(groupID string, event json.RawMessage) { r.groupEvent = event }

func TestDispatchNotificationRoutesByEvent(t *testing.T) {
	h := &recordingHandler{}
	c := New(func(string, []byte) error { return nil }, WithEventHandler(h))

	payload, _ := json.Marshal(map[string]any{
		"event":    "new_message",
		"group_id": "g1",
		"data": map[string]any{
			"latest_msg_id": "m99",
			"sender":        "a.ap",
			"preview":       "hey",
		},
	})
	c.HandleIncoming(payload)
	assert.Equal(t, "g1", h.newMessageGroup)
	assert.Equal(t, "m99", h.newMessageMsgID)

	invite, _ := json.Marshal(map[string]any{
		"event":    "group_invite",
		"group_id": "g2",
		"data": map[string]any{
			"group_address": "acpgrp://ap.example/g2",
			"invited_by":    "b.ap",
		},
	})
	c.HandleIncoming(invite)
	assert.Equal(t, "g2", h.inviteGroup)
	assert.Equal(t, "b.ap", h.invitedBy)

	approved, _ := json.Marshal(map[string]any{"event": "join_approved", "group_id": "g3"})
	c.HandleIncoming(approved)
	assert.Equal(t, "g3", h.joinApprovedGroup)
}

type recordingProcessor struct {
	joinedGroup, joinedAgent string
	metaGroup                string
	meta                      json.RawMessage
	dissolvedGroup            string
}

func (p *recordingProcessor) MemberJoined(groupID, agentID string) {
	p.joinedGroup, p.joinedAgent = groupID, agentID
}
func (p *recordingProcessor) MemberRemoved(groupID, agentID string)   {}
func (p *recordingProcessor) MemberLeft(groupID, agentID string)     {}
func (p *recordingProcessor) MemberBanned(groupID, agentID string)   {}
func (p *recordingProcessor) MemberUnbanned(groupID, agentID string) {}
func (p *recordingProcessor) MetaUpdated(groupID string, meta json.RawMessage) {
	p.metaGroup, p.meta = groupID, meta
}
func (p *recordingProcessor) RulesUpdated(groupID string, rules json.RawMessage)       {}
func (p *recordingProcessor) AnnouncementUpdated(groupID, announcement string)         {}
func (p *recordingProcessor) GroupDissolved(groupID string)                            { p.dissolvedGroup = groupID }
func (p *recordingProcessor) MasterTransferred(groupID, newMaster string)              {}
func (p *recordingProcessor) GroupSuspended(groupID, reason string)                    {}
func (p *recordingProcessor) GroupResumed(groupID string)                              {}
func (p *recordingProcessor) JoinRequirementsUpdated(groupID string, req json.RawMessage) {}
func (p *recordingProcessor) InviteCodeCreated(groupID, code string)                   {}
func (p *recordingProcessor) InviteCodeRevoked(groupID, code string)                   {}

func TestDispatchEventRoutesByMsgType(t *testing.T) {
	p := &recordingProcessor{}
	c := New(func(string, []byte) error { return nil }, WithEventProcessor(p))

	event, _ := json.Marshal(map[string]any{
		"msg_type": "member_joined",
		"payload":  map[string]any{"agent_id": "new.ap"},
	})
	c.DispatchEvent("g1", event)
	assert.Equal(t, "g1", p.joinedGroup)
	assert.Equal(t, "new.ap", p.joinedAgent)

	dissolved, _ := json.Marshal(map[string]any{"msg_type": "group_dissolved", "payload": map[string]any{}})
	c.DispatchEvent("g2", dissolved)
	assert.Equal(t, "g2", p.dissolvedGroup)
}

func TestGroupEventNotificationAlsoDispatchesStructuredEvent(t *testing.T) {
	h := &recordingHandler{}
	p := &recordingProcessor{}
	c := New(func(string, []byte) error { return nil }, WithEventHandler(h), WithEventProcessor(p))

	inner, _ := json.Marshal(map[string]any{
		"msg_type": "member_joined",
		"payload":  map[string]any{"agent_id": "x.ap"},
	})
	top := struct {
		Action  string          `json:"action"`
		Event   string          `json:"event"`
		GroupID string          `json:"group_id"`
		Data    json.RawMessage `json:"data"`
	}{
		Action:  "group_notify",
		Event:   "group_event",
		GroupID: "g9",
	}
	dataJSON, _ := json.Marshal(map[string]any{"event": json.RawMessage(inner)})
	top.Data = dataJSON

	payload, _ := json.Marshal(top)
	c.HandleIncoming(payload)

	assert.Equal(t, json.RawMessage(inner), h.groupEvent)
	assert.Equal(t, "g9", p.joinedGroup)
	assert.Equal(t, "x.ap", p.joinedAgent)
}
