// Package realtime implements the signaling and fan-out hub: the Connection
// Registry, Room Router, Chat Event Handlers, and Call State Machine.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chatcore/internal/apperr"
	"chatcore/internal/database"
	"chatcore/internal/models"
)

// Generator is the narrow seam the AI Generation Coordinator implements.
// Defined here (not in package ai) so realtime never imports ai — wiring
// happens once in cmd/api after both are constructed.
type Generator interface {
	Generate(ctx context.Context, conversationID int64, senderID int64, prompt, systemPrompt string)
	Regenerate(ctx context.Context, conversationID int64, callerID int64)
	Stop(conversationID int64)
	StopOwnedBy(conversationID int64, userID int64)
}

// Router owns the fixed inbound event catalog and dispatches each event to
// its handler after a rate-limit check; conversation membership is checked by
// the individual handlers. One Dispatch call runs to
// completion before the next event from the same connection is processed —
// the per-connection single-threaded scheduling guarantee lives in the
// caller (Client.ReadPump), which never dispatches concurrently.
type Router struct {
	reg   *Registry
	db    *database.DB
	calls *CallMachine
	ai    Generator
	log   zerolog.Logger

	rpm      int
	limiters map[string]*rate.Limiter
}

// NewRouter builds a Router. SetGenerator must be called once the AI
// coordinator exists, before any send-message/regenerate/stop-generation
// event can be serviced meaningfully.
func NewRouter(reg *Registry, db *database.DB, calls *CallMachine, rpm int, log zerolog.Logger) *Router {
	return &Router{
		reg:      reg,
		db:       db,
		calls:    calls,
		rpm:      rpm,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetGenerator wires the AI Generation Coordinator after construction.
func (rt *Router) SetGenerator(g Generator) { rt.ai = g }

func (rt *Router) limiterFor(connID string) *rate.Limiter {
	l, ok := rt.limiters[connID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(rt.rpm)/60), rt.rpm)
		rt.limiters[connID] = l
	}
	return l
}

// Dispatch routes one inbound event to its handler.
func (rt *Router) Dispatch(ctx context.Context, c *Client, ev Event) {
	if !rt.limiterFor(c.id).Allow() {
		c.sendError("rate limit exceeded", "rate_limited")
		return
	}

	switch ev.Event {
	case InJoinConversation:
		rt.handleJoin(c, ev)
	case InLeaveConversation:
		rt.handleLeave(c, ev)
	case InSendMessage:
		rt.handleSendMessage(ctx, c, ev)
	case InEditMessage:
		rt.handleEditMessage(ctx, c, ev)
	case InDeleteMessage:
		rt.handleDeleteMessage(c, ev)
	case InReact:
		rt.handleReact(c, ev)
	case InMessageRead:
		rt.handleMessageRead(c, ev)
	case InTypingStart:
		rt.handleTyping(c, ev, true)
	case InTypingStop:
		rt.handleTyping(c, ev, false)
	case InRegenerate:
		rt.handleRegenerate(ctx, c, ev)
	case InStopGeneration:
		rt.handleStopGeneration(c, ev)
	case InCallInitiate:
		rt.handleCallInitiate(c, ev)
	case InCallAccept:
		rt.handleCallAccept(c, ev)
	case InCallReject:
		rt.handleCallReject(c, ev)
	case InCallCancel:
		rt.handleCallCancel(c, ev)
	case InCallEnd:
		rt.handleCallEnd(c, ev)
	case InWebRTCOffer, InWebRTCAnswer, InWebRTCICE:
		rt.handleSignal(c, ev)
	default:
		rt.log.Info().Str("event", ev.Event).Msg("dropping unknown inbound event")
	}
}

// requireMembership is the shared guard every conversation-scoped handler
// runs first: membership and conversation-existence collapse into one
// failure mode by design (§4.3).
func (rt *Router) requireMembership(c *Client, conversationID int64) bool {
	ok, err := rt.db.IsMember(conversationID, c.userID)
	if err != nil {
		rt.log.Error().Err(err).Msg("membership check failed")
		c.sendError("internal error", "internal")
		return false
	}
	if !ok {
		c.sendError("Conversation not found", "not_found")
		return false
	}
	return true
}

func decode[T any](ev Event) (T, error) {
	var v T
	err := json.Unmarshal(ev.Data, &v)
	return v, err
}

func badPayload(c *Client) { c.sendError("invalid event payload", "validation") }

type conversationRef struct {
	ConversationID int64 `json:"conversationId"`
}

func (rt *Router) handleJoin(c *Client, ev Event) {
	req, err := decode[conversationRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}
	rt.reg.Join(c.id, ConversationRoom(req.ConversationID))
}

func (rt *Router) handleLeave(c *Client, ev Event) {
	req, err := decode[conversationRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	rt.reg.Leave(c.id, ConversationRoom(req.ConversationID))
}

type sendMessageReq struct {
	ConversationID int64                `json:"conversationId"`
	Content        string               `json:"content"`
	Type           models.MessageType   `json:"type"`
	ReplyToID      *int64               `json:"replyToId,omitempty"`
	Attachments    []models.Attachment  `json:"attachments,omitempty"`
}

func (rt *Router) handleSendMessage(ctx context.Context, c *Client, ev Event) {
	req, err := decode[sendMessageReq](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if len([]rune(req.Content)) > 10000 {
		c.sendError("message too long", "validation")
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}

	conv, err := rt.db.GetConversation(req.ConversationID)
	if err != nil {
		c.sendError("Conversation not found", "not_found")
		return
	}

	if conv.Kind == models.ConversationDirect {
		memberIDs, err := rt.db.ListMemberUserIDs(req.ConversationID)
		if err == nil && len(memberIDs) == 2 {
			other := memberIDs[0]
			if other == c.userID {
				other = memberIDs[1]
			}
			if blocked, _ := rt.db.IsBlocked(c.userID, other); blocked {
				c.sendError("cannot message a blocked user", "forbidden")
				return
			}
		}
	}

	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	senderID := c.userID
	msg, err := rt.db.CreateMessage(req.ConversationID, &senderID, msgType, req.Content, req.ReplyToID)
	if err != nil {
		rt.log.Error().Err(err).Msg("create message failed")
		c.sendError("failed to send message", "internal")
		return
	}
	if len(req.Attachments) > 0 {
		if err := rt.db.InsertAttachments(msg.ID, req.Attachments); err != nil {
			rt.log.Error().Err(err).Msg("insert attachments failed")
		}
	}

	room := ConversationRoom(req.ConversationID)
	rt.reg.Broadcast(room, NewEvent(OutNewMessage, models.ToMessageResponse(msg)))

	if conv.Kind == models.ConversationAIChat {
		if conv.Title != nil && *conv.Title == "New Chat" {
			title := req.Content
			if runes := []rune(title); len(runes) > 80 {
				title = string(runes[:80])
			}
			if err := rt.db.SetConversationTitle(conv.ID, title); err == nil {
				rt.reg.Broadcast(room, NewEvent(OutConversationUpdate, map[string]interface{}{
					"conversationId": conv.ID, "title": title,
				}))
			}
		}
		if rt.ai != nil {
			sp := ""
			if conv.SystemPrompt != nil {
				sp = *conv.SystemPrompt
			}
			rt.ai.Generate(ctx, conv.ID, c.userID, req.Content, sp)
		}
		return
	}

	rt.notifyOthers(conv, msg, req.Content)

	trigger := ""
	if strings.Contains(req.Content, "@ai") {
		trigger = req.Content
	} else if strings.HasPrefix(req.Content, "/ai ") {
		trigger = strings.TrimPrefix(req.Content, "/ai ")
	}
	if trigger != "" && rt.ai != nil {
		prompt := strings.TrimSpace(strings.ReplaceAll(trigger, "@ai", ""))
		rt.ai.Generate(ctx, conv.ID, c.userID, prompt, "")
	}
}

// notifyOthers implements the NEW_MESSAGE / MENTION notification rules of
// §4.4 for non-AI conversations: offline members get a durable notification,
// and any `@name` prefix match against another member's display name creates
// a MENTION.
func (rt *Router) notifyOthers(conv *models.Conversation, msg *models.Message, content string) {
	members, err := rt.db.ListMembers(conv.ID)
	if err != nil {
		rt.log.Error().Err(err).Msg("list members for notify failed")
		return
	}
	mentionTokens := extractMentionTokens(content)
	for _, m := range members {
		if msg.SenderID != nil && m.UserID == *msg.SenderID {
			continue
		}
		if !rt.reg.IsOnline(m.UserID) {
			if _, err := rt.db.CreateNotification(m.UserID, models.NotifyNewMessage, "New message", truncate(content, 120), map[string]interface{}{
				"conversationId": conv.ID, "messageId": msg.ID,
			}); err != nil {
				rt.log.Error().Err(err).Msg("create new-message notification failed")
			} else {
				rt.reg.BroadcastToUser(m.UserID, NewEvent(OutNewNotification, nil))
			}
		}
		user, err := rt.db.GetUserByID(m.UserID)
		if err == nil && mentionsMember(mentionTokens, user.DisplayName) {
			if _, err := rt.db.CreateNotification(m.UserID, models.NotifyMention, "You were mentioned", truncate(content, 120), map[string]interface{}{
				"conversationId": conv.ID, "messageId": msg.ID,
			}); err != nil {
				rt.log.Error().Err(err).Msg("create mention notification failed")
			} else {
				rt.reg.BroadcastToUser(m.UserID, NewEvent(OutNewNotification, nil))
			}
		}
	}
}

// extractMentionTokens pulls every "@token" out of a message body, lower-
// cased, so mentionsMember can prefix-match each against a member's display
// name without re-scanning the raw content per member.
func extractMentionTokens(content string) []string {
	var tokens []string
	for _, word := range strings.Fields(content) {
		word = strings.TrimLeft(word, "(\"'")
		if !strings.HasPrefix(word, "@") {
			continue
		}
		token := strings.TrimFunc(word[1:], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if token != "" {
			tokens = append(tokens, strings.ToLower(token))
		}
	}
	return tokens
}

// mentionsMember reports whether any "@token" case-insensitively prefixes
// displayName, first match wins (per the documented mention-matching
// decision: "@Ali" mentions a member named "Alice").
func mentionsMember(tokens []string, displayName string) bool {
	lower := strings.ToLower(displayName)
	for _, token := range tokens {
		if strings.HasPrefix(lower, token) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type editMessageReq struct {
	MessageID int64  `json:"messageId"`
	Content   string `json:"content"`
}

func (rt *Router) handleEditMessage(ctx context.Context, c *Client, ev Event) {
	req, err := decode[editMessageReq](ev)
	if err != nil {
		badPayload(c)
		return
	}
	existing, err := rt.db.GetMessage(req.MessageID)
	if err != nil {
		c.sendError("message not found", "not_found")
		return
	}
	if !rt.requireMembership(c, existing.ConversationID) {
		return
	}
	conv, err := rt.db.GetConversation(existing.ConversationID)
	if err != nil {
		c.sendError("Conversation not found", "not_found")
		return
	}
	cascade := conv.Kind == models.ConversationAIChat
	msg, cascaded, err := rt.db.EditMessageCascading(req.MessageID, c.userID, req.Content, cascade)
	if err != nil {
		c.sendError("cannot edit this message", "forbidden")
		return
	}
	room := ConversationRoom(existing.ConversationID)
	rt.reg.Broadcast(room, NewEvent(OutMessageUpdated, models.ToMessageResponse(msg)))
	for _, id := range cascaded {
		rt.reg.Broadcast(room, NewEvent(OutMessageDeleted, map[string]interface{}{"messageId": id}))
	}
	if cascade && rt.ai != nil {
		sp := ""
		if conv.SystemPrompt != nil {
			sp = *conv.SystemPrompt
		}
		rt.ai.Generate(ctx, conv.ID, c.userID, req.Content, sp)
	}
}

type messageRef struct {
	MessageID int64 `json:"messageId"`
}

func (rt *Router) handleDeleteMessage(c *Client, ev Event) {
	req, err := decode[messageRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	existing, err := rt.db.GetMessage(req.MessageID)
	if err != nil {
		c.sendError("message not found", "not_found")
		return
	}
	if !rt.requireMembership(c, existing.ConversationID) {
		return
	}
	if existing.SenderID == nil || *existing.SenderID != c.userID {
		c.sendError("cannot delete this message", "forbidden")
		return
	}
	msg, err := rt.db.DeleteMessage(req.MessageID)
	if err != nil {
		c.sendError("cannot delete this message", "forbidden")
		return
	}
	rt.reg.Broadcast(ConversationRoom(msg.ConversationID), NewEvent(OutMessageDeleted, map[string]interface{}{"messageId": msg.ID}))
}

type reactReq struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (rt *Router) handleReact(c *Client, ev Event) {
	req, err := decode[reactReq](ev)
	if err != nil {
		badPayload(c)
		return
	}
	msg, err := rt.db.GetMessage(req.MessageID)
	if err != nil {
		c.sendError("message not found", "not_found")
		return
	}
	if !rt.requireMembership(c, msg.ConversationID) {
		return
	}
	reactions, err := rt.db.ToggleReaction(req.MessageID, c.userID, req.Emoji)
	if err != nil {
		c.sendError("failed to react", "internal")
		return
	}
	rt.reg.Broadcast(ConversationRoom(msg.ConversationID), NewEvent(OutReactionUpdated, map[string]interface{}{
		"messageId": msg.ID, "reactions": reactions,
	}))
}

func (rt *Router) handleMessageRead(c *Client, ev Event) {
	req, err := decode[conversationRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}
	if err := rt.db.SetLastRead(req.ConversationID, c.userID); err != nil {
		rt.log.Error().Err(err).Msg("set last read failed")
	}
	if err := rt.db.MarkAllRead(req.ConversationID, c.userID); err != nil {
		rt.log.Error().Err(err).Msg("mark all read failed")
	}
	rt.reg.Broadcast(ConversationRoom(req.ConversationID), NewEvent(OutMessageStatus, map[string]interface{}{
		"messageId": "", "status": models.StatusRead, "userId": c.userID,
	}))
}

func (rt *Router) handleTyping(c *Client, ev Event, typing bool) {
	req, err := decode[conversationRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}
	room := ConversationRoom(req.ConversationID)
	rt.reg.broadcastExcept(room, c.id, NewEvent(OutTyping, map[string]interface{}{
		"conversationId": req.ConversationID, "userId": c.userID, "typing": typing,
	}))
	if typing {
		rt.scheduleTypingExpiry(req.ConversationID, c.userID, c.id)
	}
}

func (rt *Router) scheduleTypingExpiry(conversationID, userID int64, connID string) {
	time.AfterFunc(6*time.Second, func() {
		rt.reg.broadcastExcept(ConversationRoom(conversationID), connID, NewEvent(OutTyping, map[string]interface{}{
			"conversationId": conversationID, "userId": userID, "typing": false,
		}))
	})
}

func (rt *Router) handleRegenerate(ctx context.Context, c *Client, ev Event) {
	req, err := decode[conversationRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}
	deleted, err := rt.db.DeleteMostRecentAIResponse(req.ConversationID)
	if err != nil && !apperr.Is(err, apperr.ErrNotFound) {
		c.sendError("failed to regenerate", "internal")
		return
	}
	if deleted != nil {
		rt.reg.Broadcast(ConversationRoom(req.ConversationID), NewEvent(OutMessageDeleted, map[string]interface{}{"messageId": deleted.ID}))
	}
	if rt.ai != nil {
		rt.ai.Regenerate(ctx, req.ConversationID, c.userID)
	}
}

func (rt *Router) handleStopGeneration(c *Client, ev Event) {
	req, err := decode[conversationRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}
	if rt.ai != nil {
		rt.ai.Stop(req.ConversationID)
	}
}

// OnDisconnect runs after a connection is unregistered: for each conversation
// room it occupied, if the departing user has no other live connection still
// subscribed there, any generation that user started in that conversation is
// cancelled. A generation started by a different member of the same
// conversation is left running.
func (rt *Router) OnDisconnect(userID int64, rooms []string) {
	if rt.ai == nil {
		return
	}
	for _, room := range rooms {
		convID, ok := conversationIDFromRoom(room)
		if !ok {
			continue
		}
		if rt.userStillSubscribed(userID, room) {
			continue
		}
		rt.ai.StopOwnedBy(convID, userID)
	}
}

func (rt *Router) userStillSubscribed(userID int64, room string) bool {
	for _, connID := range rt.reg.ConnectionsOf(userID) {
		for _, r := range rt.reg.RoomsOf(connID) {
			if r == room {
				return true
			}
		}
	}
	return false
}
