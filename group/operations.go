package group

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/acp-sdk/acp-core/acperr"
	"github.com/acp-sdk/acp-core/group/cursor"
	"github.com/acp-sdk/acp-core/internal/metrics"
)

// DefaultPullLimit is the page size used when a pull_messages /
// pull_events call does not specify one.
const DefaultPullLimit = 50

// MaxSyncIterations bounds sync_group's per-side loop against a
// misbehaving server (spec.md §4.12).
const MaxSyncIterations = 100

// JoinByURLBackoff is the bounded backoff schedule join_by_url uses
// to resolve membership when the server's response carries neither
// status nor request_id.
var JoinByURLBackoff = []time.Duration{350 * time.Millisecond, 700 * time.Millisecond, 1050 * time.Millisecond, 1050 * time.Millisecond}

// Operations is the typed façade (C12) over the correlation engine
// (C11). Most methods map to exactly one SendRequest call; JoinByURL,
// SyncGroup and SyncAll issue several.
type Operations struct {
	c       *Client
	cursors cursor.Store
	sf      singleflight.Group
}

// NewOperations constructs an Operations façade over c, using cursors
// for sync_group bookkeeping.
func NewOperations(c *Client, cursors cursor.Store) *Operations {
	return &Operations{c: c, cursors: cursors}
}

func (o *Operations) call(targetAID, groupID, action string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	resp, err := o.c.SendRequest(targetAID, groupID, action, params, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// callDeduped collapses concurrent identical read-only calls (same
// target, group and action) into a single round-trip via singleflight,
// so a burst of callers polling the same group's info or roster don't
// each open their own correlation entry.
func (o *Operations) callDeduped(targetAID, groupID, action string) (json.RawMessage, error) {
	key := targetAID + "|" + groupID + "|" + action
	data, err, _ := o.sf.Do(key, func() (any, error) {
		return o.call(targetAID, groupID, action, nil, 0)
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return data.(json.RawMessage), nil
}

func decodeInto[T any](data json.RawMessage, out *T) error {
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return acperr.Wrap(acperr.Unknown, "group: decode response data", err)
	}
	return nil
}

// ParseGroupURL splits a group URL into (target_aid = host, group_id
// = first non-empty path segment).
func ParseGroupURL(groupURL string) (targetAID, groupID string, err error) {
	u, err := url.Parse(groupURL)
	if err != nil {
		return "", "", acperr.Wrap(acperr.InvalidArgument, "group: parse group url", err)
	}
	targetAID = u.Host
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			groupID = seg
			break
		}
	}
	if targetAID == "" || groupID == "" {
		return "", "", acperr.New(acperr.InvalidArgument, fmt.Sprintf("group: malformed group url %q", groupURL))
	}
	return targetAID, groupID, nil
}

// --- Lifecycle ---

func (o *Operations) RegisterOnline(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "register_online", nil, 0)
	return err
}

func (o *Operations) UnregisterOnline(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "unregister_online", nil, 0)
	return err
}

func (o *Operations) Heartbeat(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "heartbeat", nil, 0)
	return err
}

// --- Phase 1: basics ---

type CreateGroupResp struct {
	GroupID string `json:"group_id"`
}

func (o *Operations) CreateGroup(targetAID, name string, meta map[string]any) (CreateGroupResp, error) {
	data, err := o.call(targetAID, "", "create_group", map[string]any{"name": name, "meta": meta}, 0)
	var out CreateGroupResp
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) AddMember(targetAID, groupID, agentID string) error {
	_, err := o.call(targetAID, groupID, "add_member", map[string]any{"agent_id": agentID}, 0)
	return err
}

type SendMessageResp struct {
	MsgID int64 `json:"msg_id"`
}

func (o *Operations) SendMessage(targetAID, groupID, body string) (SendMessageResp, error) {
	data, err := o.call(targetAID, groupID, "send_message", map[string]any{"body": body}, 0)
	var out SendMessageResp
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

// PullMessages pulls messages after afterMsgID. afterMsgID == 0
// triggers auto-cursor (resume from the cursor store).
func (o *Operations) PullMessages(targetAID, groupID string, afterMsgID int64, limit int) (MessageBatch, error) {
	if afterMsgID == 0 && o.cursors != nil {
		cur, err := o.cursors.LoadCursor(groupID)
		if err == nil && cur.MsgCursor != 0 {
			afterMsgID = cur.MsgCursor
		}
	}
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	data, err := o.call(targetAID, groupID, "pull_messages", map[string]any{"after_msg_id": afterMsgID, "limit": limit}, 0)
	var out MessageBatch
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) AckMessages(targetAID, groupID string, upToMsgID int64) error {
	_, err := o.call(targetAID, groupID, "ack_messages", map[string]any{"up_to_msg_id": upToMsgID}, 0)
	return err
}

func (o *Operations) PullEvents(targetAID, groupID string, afterEventID int64, limit int) (EventBatch, error) {
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	data, err := o.call(targetAID, groupID, "pull_events", map[string]any{"after_event_id": afterEventID, "limit": limit}, 0)
	var out EventBatch
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) AckEvents(targetAID, groupID string, upToEventID int64) error {
	_, err := o.call(targetAID, groupID, "ack_events", map[string]any{"up_to_event_id": upToEventID}, 0)
	return err
}

func (o *Operations) GetCursor(targetAID, groupID string) (cursor.Cursors, error) {
	data, err := o.call(targetAID, groupID, "get_cursor", nil, 0)
	var out cursor.Cursors
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

// SyncMessageHandler receives the messages/events sync_group pulls.
// OnMessages and OnEvents may be called concurrently from different
// goroutines (SyncGroup drains messages and events in parallel, and
// SyncAll drains multiple groups in parallel), so implementations
// touching shared state must synchronize internally.
type SyncMessageHandler interface {
	OnMessages(groupID string, messages []Message)
	OnEvents(groupID string, events []Event)
}

// SyncGroup loads the stored cursor, then drains messages and events
// for groupID, invoking handler and advancing/saving the cursor until
// the server reports no more data or no progress is made, each
// bounded by MaxSyncIterations (spec.md §4.12). The message and event
// drains use independent cursors, so they run concurrently via
// golang.org/x/sync/errgroup rather than one after the other.
func (o *Operations) SyncGroup(targetAID, groupID string, handler SyncMessageHandler) error {
	var cur cursor.Cursors
	if o.cursors != nil {
		var err error
		cur, err = o.cursors.LoadCursor(groupID)
		if err != nil {
			metrics.GroupCursorSyncs.WithLabelValues("failure").Inc()
			return err
		}
	}

	var g errgroup.Group
	g.Go(func() error { return o.syncMessages(targetAID, groupID, cur.MsgCursor, handler) })
	g.Go(func() error { return o.syncEvents(targetAID, groupID, cur.EventCursor, handler) })

	if err := g.Wait(); err != nil {
		metrics.GroupCursorSyncs.WithLabelValues("failure").Inc()
		return err
	}
	metrics.GroupCursorSyncs.WithLabelValues("success").Inc()
	return nil
}

func (o *Operations) syncMessages(targetAID, groupID string, startCursor int64, handler SyncMessageHandler) error {
	msgCursor := startCursor
	for i := 0; i < MaxSyncIterations; i++ {
		batch, err := o.pullMessagesRaw(targetAID, groupID, msgCursor)
		if err != nil {
			return err
		}
		if len(batch.Messages) == 0 {
			break
		}
		handler.OnMessages(groupID, batch.Messages)
		last := batch.Messages[len(batch.Messages)-1].MsgID
		if err := o.AckMessages(targetAID, groupID, last); err != nil {
			return err
		}
		if o.cursors != nil {
			if err := o.cursors.SaveMsgCursor(groupID, last); err != nil {
				return err
			}
		}
		noProgress := last <= msgCursor
		msgCursor = last
		if !batch.HasMore || noProgress {
			break
		}
	}
	if o.cursors != nil {
		return o.cursors.Flush()
	}
	return nil
}

func (o *Operations) syncEvents(targetAID, groupID string, startCursor int64, handler SyncMessageHandler) error {
	eventCursor := startCursor
	for i := 0; i < MaxSyncIterations; i++ {
		batch, err := o.PullEvents(targetAID, groupID, eventCursor, 0)
		if err != nil {
			return err
		}
		if len(batch.Events) == 0 {
			break
		}
		handler.OnEvents(groupID, batch.Events)
		last := batch.Events[len(batch.Events)-1].EventID
		if err := o.AckEvents(targetAID, groupID, last); err != nil {
			return err
		}
		if o.cursors != nil {
			if err := o.cursors.SaveEventCursor(groupID, last); err != nil {
				return err
			}
		}
		noProgress := last <= eventCursor
		eventCursor = last
		if !batch.HasMore || noProgress {
			break
		}
	}
	if o.cursors != nil {
		return o.cursors.Flush()
	}
	return nil
}

// SyncAll runs SyncGroup for every group in groupIDs concurrently,
// waits for all of them, and returns the first error encountered. A
// failure does not cancel the other groups' syncs, and the number of
// groups synced at once is not limited.
func (o *Operations) SyncAll(targetAID string, groupIDs []string, handler SyncMessageHandler) error {
	var g errgroup.Group
	for _, groupID := range groupIDs {
		groupID := groupID
		g.Go(func() error { return o.SyncGroup(targetAID, groupID, handler) })
	}
	return g.Wait()
}

func (o *Operations) pullMessagesRaw(targetAID, groupID string, afterMsgID int64) (MessageBatch, error) {
	data, err := o.call(targetAID, groupID, "pull_messages", map[string]any{"after_msg_id": afterMsgID, "limit": DefaultPullLimit}, 0)
	var out MessageBatch
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

// --- Phase 2: management ---

func (o *Operations) RemoveMember(targetAID, groupID, agentID string) error {
	_, err := o.call(targetAID, groupID, "remove_member", map[string]any{"agent_id": agentID}, 0)
	return err
}

func (o *Operations) LeaveGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "leave_group", nil, 0)
	return err
}

func (o *Operations) DissolveGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "dissolve_group", nil, 0)
	return err
}

func (o *Operations) BanAgent(targetAID, groupID, agentID, reason string) error {
	_, err := o.call(targetAID, groupID, "ban_agent", map[string]any{"agent_id": agentID, "reason": reason}, 0)
	return err
}

func (o *Operations) UnbanAgent(targetAID, groupID, agentID string) error {
	_, err := o.call(targetAID, groupID, "unban_agent", map[string]any{"agent_id": agentID}, 0)
	return err
}

type BanlistEntry struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

func (o *Operations) GetBanlist(targetAID, groupID string) ([]BanlistEntry, error) {
	data, err := o.call(targetAID, groupID, "get_banlist", nil, 0)
	var out struct {
		Banlist []BanlistEntry `json:"banlist"`
	}
	if err != nil {
		return nil, err
	}
	return out.Banlist, decodeInto(data, &out)
}

// RequestJoinResp is the result of request_join and join_by_url.
type RequestJoinResp struct {
	Status    string `json:"status"` // "joined" | "pending"
	RequestID string `json:"request_id"`
}

func (o *Operations) RequestJoin(targetAID, groupID, inviteCode, message string) (RequestJoinResp, error) {
	data, err := o.call(targetAID, groupID, "request_join", map[string]any{"invite_code": inviteCode, "message": message}, 0)
	var out RequestJoinResp
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) ReviewJoinRequest(targetAID, groupID, requestID string, approve bool) error {
	_, err := o.call(targetAID, groupID, "review_join_request", map[string]any{"request_id": requestID, "approve": approve}, 0)
	return err
}

func (o *Operations) BatchReviewJoinRequests(targetAID, groupID string, requestIDs []string, approve bool) error {
	_, err := o.call(targetAID, groupID, "batch_review_join_requests", map[string]any{"request_ids": requestIDs, "approve": approve}, 0)
	return err
}

type PendingRequestEntry struct {
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id"`
	Message   string `json:"message"`
}

func (o *Operations) GetPendingRequests(targetAID, groupID string) ([]PendingRequestEntry, error) {
	data, err := o.call(targetAID, groupID, "get_pending_requests", nil, 0)
	var out struct {
		Requests []PendingRequestEntry `json:"requests"`
	}
	if err != nil {
		return nil, err
	}
	return out.Requests, decodeInto(data, &out)
}

// JoinByURL parses groupURL and calls RequestJoin. When the server's
// response carries neither status nor request_id, membership is
// resolved by retrying GetMembers lookup with a bounded backoff
// (spec.md §4.12).
func (o *Operations) JoinByURL(groupURL, inviteCode, message string) (RequestJoinResp, error) {
	targetAID, groupID, err := ParseGroupURL(groupURL)
	if err != nil {
		return RequestJoinResp{}, err
	}

	resp, err := o.RequestJoin(targetAID, groupID, inviteCode, message)
	if err != nil {
		return resp, err
	}
	if resp.Status != "" || resp.RequestID != "" {
		return resp, nil
	}

	for _, delay := range JoinByURLBackoff {
		time.Sleep(delay)
		members, err := o.GetMembers(targetAID, groupID)
		if err == nil {
			for _, m := range members {
				if m.AgentID == targetAID {
					return RequestJoinResp{Status: "joined"}, nil
				}
			}
		}
	}
	return RequestJoinResp{Status: "pending"}, nil
}

// --- Phase 3: full features ---

type GroupInfo struct {
	GroupID string          `json:"group_id"`
	Name    string          `json:"name"`
	Meta    json.RawMessage `json:"meta"`
}

func (o *Operations) GetInfo(targetAID, groupID string) (GroupInfo, error) {
	data, err := o.callDeduped(targetAID, groupID, "get_info")
	var out GroupInfo
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) UpdateMeta(targetAID, groupID string, meta map[string]any) error {
	_, err := o.call(targetAID, groupID, "update_meta", map[string]any{"meta": meta}, 0)
	return err
}

type GroupMember struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

func (o *Operations) GetMembers(targetAID, groupID string) ([]GroupMember, error) {
	data, err := o.callDeduped(targetAID, groupID, "get_members")
	var out struct {
		Members []GroupMember `json:"members"`
	}
	if err != nil {
		return nil, err
	}
	return out.Members, decodeInto(data, &out)
}

func (o *Operations) GetAdmins(targetAID, groupID string) ([]string, error) {
	data, err := o.call(targetAID, groupID, "get_admins", nil, 0)
	var out struct {
		Admins []string `json:"admins"`
	}
	if err != nil {
		return nil, err
	}
	return out.Admins, decodeInto(data, &out)
}

func (o *Operations) UpdateRules(targetAID, groupID string, rules map[string]any) error {
	_, err := o.call(targetAID, groupID, "update_rules", map[string]any{"rules": rules}, 0)
	return err
}

func (o *Operations) UpdateAnnouncement(targetAID, groupID, announcement string) error {
	_, err := o.call(targetAID, groupID, "update_announcement", map[string]any{"announcement": announcement}, 0)
	return err
}

func (o *Operations) UpdateJoinRequirements(targetAID, groupID string, requirements map[string]any) error {
	_, err := o.call(targetAID, groupID, "update_join_requirements", map[string]any{"requirements": requirements}, 0)
	return err
}

func (o *Operations) SuspendGroup(targetAID, groupID, reason string) error {
	_, err := o.call(targetAID, groupID, "suspend_group", map[string]any{"reason": reason}, 0)
	return err
}

func (o *Operations) ResumeGroup(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "resume_group", nil, 0)
	return err
}

func (o *Operations) TransferMaster(targetAID, groupID, newMaster string) error {
	_, err := o.call(targetAID, groupID, "transfer_master", map[string]any{"new_master": newMaster}, 0)
	return err
}

type InviteCode struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at"`
}

func (o *Operations) CreateInviteCode(targetAID, groupID string, expiresInSec int64) (InviteCode, error) {
	data, err := o.call(targetAID, groupID, "create_invite_code", map[string]any{"expires_in_sec": expiresInSec}, 0)
	var out InviteCode
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) RevokeInviteCode(targetAID, groupID, code string) error {
	_, err := o.call(targetAID, groupID, "revoke_invite_code", map[string]any{"code": code}, 0)
	return err
}

func (o *Operations) SetBroadcastLock(targetAID, groupID string, locked bool) error {
	_, err := o.call(targetAID, groupID, "set_broadcast_lock", map[string]any{"locked": locked}, 0)
	return err
}

func (o *Operations) SetBroadcastPermission(targetAID, groupID, role string, allowed bool) error {
	_, err := o.call(targetAID, groupID, "set_broadcast_permission", map[string]any{"role": role, "allowed": allowed}, 0)
	return err
}

func (o *Operations) SetDutyConfig(targetAID, groupID string, config map[string]any) error {
	_, err := o.call(targetAID, groupID, "set_duty_config", map[string]any{"config": config}, 0)
	return err
}

func (o *Operations) RefreshMemberTypes(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "refresh_member_types", nil, 0)
	return err
}

// --- Phase 4: convenience ---

func (o *Operations) GetSyncStatus(targetAID, groupID string) (json.RawMessage, error) {
	return o.call(targetAID, groupID, "get_sync_status", nil, 0)
}

func (o *Operations) GetSyncLog(targetAID, groupID string) (json.RawMessage, error) {
	return o.call(targetAID, groupID, "get_sync_log", nil, 0)
}

func (o *Operations) GetChecksum(targetAID, groupID string) (string, error) {
	data, err := o.call(targetAID, groupID, "get_checksum", nil, 0)
	var out struct {
		Checksum string `json:"checksum"`
	}
	if err != nil {
		return "", err
	}
	return out.Checksum, decodeInto(data, &out)
}

func (o *Operations) GetMessageChecksum(targetAID, groupID string, msgID int64) (string, error) {
	data, err := o.call(targetAID, groupID, "get_message_checksum", map[string]any{"msg_id": msgID}, 0)
	var out struct {
		Checksum string `json:"checksum"`
	}
	if err != nil {
		return "", err
	}
	return out.Checksum, decodeInto(data, &out)
}

func (o *Operations) GetPublicInfo(targetAID, groupID string) (GroupInfo, error) {
	data, err := o.callDeduped(targetAID, groupID, "get_public_info")
	var out GroupInfo
	if err != nil {
		return out, err
	}
	return out, decodeInto(data, &out)
}

func (o *Operations) SearchGroups(targetAID, query string) ([]GroupInfo, error) {
	data, err := o.call(targetAID, "", "search_groups", map[string]any{"query": query}, 0)
	var out struct {
		Groups []GroupInfo `json:"groups"`
	}
	if err != nil {
		return nil, err
	}
	return out.Groups, decodeInto(data, &out)
}

func (o *Operations) GenerateDigest(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "generate_digest", nil, 0)
	return err
}

func (o *Operations) GetDigest(targetAID, groupID string) (json.RawMessage, error) {
	return o.call(targetAID, groupID, "get_digest", nil, 0)
}

// --- Phase 5: Home AP membership ---

func (o *Operations) ListMyGroups(targetAID string) ([]GroupInfo, error) {
	data, err := o.call(targetAID, "", "list_my_groups", nil, 0)
	var out struct {
		Groups []GroupInfo `json:"groups"`
	}
	if err != nil {
		return nil, err
	}
	return out.Groups, decodeInto(data, &out)
}

func (o *Operations) UnregisterMembership(targetAID, groupID string) error {
	_, err := o.call(targetAID, groupID, "unregister_membership", nil, 0)
	return err
}

func (o *Operations) ChangeMemberRole(targetAID, groupID, agentID, role string) error {
	_, err := o.call(targetAID, groupID, "change_member_role", map[string]any{"agent_id": agentID, "role": role}, 0)
	return err
}

func (o *Operations) GetFile(targetAID, groupID, fileID string) (json.RawMessage, error) {
	return o.call(targetAID, groupID, "get_file", map[string]any{"file_id": fileID}, 0)
}

func (o *Operations) GetSummary(targetAID, groupID string) (json.RawMessage, error) {
	return o.call(targetAID, groupID, "get_summary", nil, 0)
}

func (o *Operations) GetMetrics(targetAID, groupID string) (json.RawMessage, error) {
	return o.call(targetAID, groupID, "get_metrics", nil, 0)
}
