package group

import (
	"encoding/json"

	"github.com/acp-sdk/acp-core/internal/logger"
	"github.com/acp-sdk/acp-core/internal/metrics"
)

// EventProcessor receives the structured group events decoded via
// DispatchEvent (spec.md §4.11.1). Each callback takes the group_id
// the event concerns plus the event's own payload fields.
type EventProcessor interface {
	MemberJoined(groupID, agentID string)
	MemberRemoved(groupID, agentID string)
	MemberLeft(groupID, agentID string)
	MemberBanned(groupID, agentID string)
	MemberUnbanned(groupID, agentID string)
	MetaUpdated(groupID string, meta json.RawMessage)
	RulesUpdated(groupID string, rules json.RawMessage)
	AnnouncementUpdated(groupID, announcement string)
	GroupDissolved(groupID string)
	MasterTransferred(groupID, newMaster string)
	GroupSuspended(groupID, reason string)
	GroupResumed(groupID string)
	JoinRequirementsUpdated(groupID string, requirements json.RawMessage)
	InviteCodeCreated(groupID, code string)
	InviteCodeRevoked(groupID, code string)
}

// dispatchNotification handles the `event` discriminator of a
// `{action:"group_notify", group_id, event, data, timestamp}`
// notification (spec.md §4.8/§4.11.1); data carries the fields below.
func (c *Client) dispatchNotification(event, groupID string, data json.RawMessage) {
	metrics.GroupNotifications.WithLabelValues(event).Inc()
	if c.handler == nil {
		return
	}

	var body struct {
		LatestMsgID   string          `json:"latest_msg_id"`
		Sender        string          `json:"sender"`
		Preview       string          `json:"preview"`
		LatestEventID string          `json:"latest_event_id"`
		EventType     string          `json:"event_type"`
		Summary       string          `json:"summary"`
		GroupAddress  string          `json:"group_address"`
		InvitedBy     string          `json:"invited_by"`
		Event         json.RawMessage `json:"event"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			c.log.Warn("group: malformed notification data", logger.Error(err))
			return
		}
	}

	switch event {
	case "new_message":
		c.handler.OnNewMessage(groupID, body.LatestMsgID, body.Sender, body.Preview)
	case "new_event":
		c.handler.OnNewEvent(groupID, body.LatestEventID, body.EventType, body.Summary)
	case "group_invite":
		c.handler.OnGroupInvite(groupID, body.GroupAddress, body.InvitedBy)
	case "join_approved":
		c.handler.OnJoinApproved(groupID)
	case "join_rejected":
		c.handler.OnJoinRejected(groupID)
	case "join_request_received":
		c.handler.OnJoinRequestReceived(groupID)
	case "group_event":
		c.handler.OnGroupEvent(groupID, body.Event)
		if c.eventProcessor != nil && body.Event != nil {
			c.DispatchEvent(groupID, body.Event)
		}
	case "group_message":
		// Kept for back-compat; not emitted by the current server contract.
	}
}

// DispatchEvent decodes a structured group event's msg_type and
// routes it to the registered EventProcessor.
func (c *Client) DispatchEvent(groupID string, payload json.RawMessage) {
	if c.eventProcessor == nil {
		return
	}

	var env struct {
		MsgType string          `json:"msg_type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		c.log.Warn("group: malformed group event", logger.Error(err))
		return
	}

	var fields struct {
		AgentID      string          `json:"agent_id"`
		Meta         json.RawMessage `json:"meta"`
		Rules        json.RawMessage `json:"rules"`
		Announcement string          `json:"announcement"`
		NewMaster    string          `json:"new_master"`
		Reason       string          `json:"reason"`
		Requirements json.RawMessage `json:"requirements"`
		Code         string          `json:"code"`
	}
	_ = json.Unmarshal(env.Payload, &fields)

	p := c.eventProcessor
	switch env.MsgType {
	case "member_joined":
		p.MemberJoined(groupID, fields.AgentID)
	case "member_removed":
		p.MemberRemoved(groupID, fields.AgentID)
	case "member_left":
		p.MemberLeft(groupID, fields.AgentID)
	case "member_banned":
		p.MemberBanned(groupID, fields.AgentID)
	case "member_unbanned":
		p.MemberUnbanned(groupID, fields.AgentID)
	case "meta_updated":
		p.MetaUpdated(groupID, fields.Meta)
	case "rules_updated":
		p.RulesUpdated(groupID, fields.Rules)
	case "announcement_updated":
		p.AnnouncementUpdated(groupID, fields.Announcement)
	case "group_dissolved":
		p.GroupDissolved(groupID)
	case "master_transferred":
		p.MasterTransferred(groupID, fields.NewMaster)
	case "group_suspended":
		p.GroupSuspended(groupID, fields.Reason)
	case "group_resumed":
		p.GroupResumed(groupID)
	case "join_requirements_updated":
		p.JoinRequirementsUpdated(groupID, fields.Requirements)
	case "invite_code_created":
		p.InviteCodeCreated(groupID, fields.Code)
	case "invite_code_revoked":
		p.InviteCodeRevoked(groupID, fields.Code)
	}
}
