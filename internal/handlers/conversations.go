package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
	"chatcore/internal/realtime"
)

// requireMembership is the HTTP-side twin of the Room Router's guard:
// membership and conversation-existence collapse into one not-found so a
// caller can't probe for a conversation's existence without being a member.
func (a *API) requireMembership(conversationID, userID int64) error {
	ok, err := a.DB.IsMember(conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Wrap(apperr.ErrNotFound, "conversation not found")
	}
	return nil
}

func (a *API) toConversationResponse(userID int64, conv *models.Conversation) models.ConversationResponse {
	resp := models.ToConversationResponse(conv)
	if hint, err := a.DB.ConversationUnreadHint(conv.ID, userID); err == nil {
		resp.UnreadHint = hint
	}
	return resp
}

// ListConversations returns every conversation the caller belongs to, most
// recently active first, with an approximate unread indicator per entry.
func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r)
	convs, err := a.DB.ListConversationsForUser(userID)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	out := make([]models.ConversationResponse, len(convs))
	for i := range convs {
		out[i] = a.toConversationResponse(userID, &convs[i])
	}
	RespondWithJSON(w, http.StatusOK, out)
}

// CreateConversation creates a DIRECT, GROUP, or AI_CHAT conversation
// depending on the request's kind.
func (a *API) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := userIDFromContext(r)

	var conv *models.Conversation
	var err error
	switch req.Kind {
	case models.ConversationDirect:
		if len(req.MemberIDs) != 1 {
			RespondWithError(w, http.StatusBadRequest, "DIRECT conversations require exactly one other member")
			return
		}
		other := req.MemberIDs[0]
		if other == userID {
			RespondWithError(w, http.StatusBadRequest, "cannot start a direct conversation with yourself")
			return
		}
		if blocked, berr := a.DB.IsBlocked(userID, other); berr == nil && blocked {
			RespondWithError(w, http.StatusForbidden, "cannot message a blocked user")
			return
		}
		conv, err = a.DB.CreateDirectConversation(userID, other)
	case models.ConversationGroup:
		if strings.TrimSpace(req.GroupName) == "" {
			RespondWithError(w, http.StatusBadRequest, "groupName is required")
			return
		}
		conv, err = a.DB.CreateGroupConversation(userID, req.GroupName, req.MemberIDs)
	case models.ConversationAIChat:
		conv, err = a.DB.CreateAIChatConversation(userID, req.SystemPrompt)
	default:
		RespondWithError(w, http.StatusBadRequest, "unsupported conversation kind")
		return
	}
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, a.toConversationResponse(userID, conv))
}

// GetConversation returns one conversation the caller is a member of.
func (a *API) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	if err := a.requireMembership(id, userID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	conv, err := a.DB.GetConversation(id)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, a.toConversationResponse(userID, conv))
}

// UpdateConversation patches a conversation's mutable metadata.
func (a *API) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	if err := a.requireMembership(id, userID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	var req models.UpdateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := a.DB.UpdateConversation(id, req)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.Registry.Broadcast(realtime.ConversationRoom(id), realtime.NewEvent(realtime.OutConversationUpdate, models.ToConversationResponse(conv)))
	RespondWithJSON(w, http.StatusOK, a.toConversationResponse(userID, conv))
}

// DeleteConversation removes a conversation. Only its creator may delete it.
func (a *API) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	conv, err := a.DB.GetConversation(id)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if conv.CreatedByID != userID {
		a.respondErr(w, r, apperr.Wrap(apperr.ErrForbidden, "only the creator can delete this conversation"))
		return
	}
	if err := a.DB.DeleteConversation(id); err != nil {
		a.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// PinConversation toggles the caller's own pin flag on a conversation.
func (a *API) PinConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	if err := a.requireMembership(id, userID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.DB.SetPinned(id, userID, req.Pinned); err != nil {
		a.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns a page of a conversation's message history, newest
// first; passing the id of a page's last message as cursor fetches the next,
// older page.
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	if err := a.requireMembership(id, userID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	cursor := parseInt64Query(r, "cursor", 0)
	limit := clampLimit(parseIntQuery(r, "limit", defaultMessagePageSize), defaultMessagePageSize, maxMessagePageSize)

	msgs, err := a.DB.ListMessages(id, cursor, limit)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	out := make([]models.MessageResponse, len(msgs))
	for i := range msgs {
		resp := models.ToMessageResponse(&msgs[i])
		resp.Attachments, _ = a.DB.AttachmentsFor(msgs[i].ID)
		resp.Reactions, _ = a.DB.ReactionsFor(msgs[i].ID)
		out[i] = resp
	}
	RespondWithJSON(w, http.StatusOK, out)
}

// ExportConversation dumps a conversation's full history as JSON or a
// plain-text markdown transcript.
func (a *API) ExportConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	if err := a.requireMembership(id, userID); err != nil {
		a.respondErr(w, r, err)
		return
	}

	var all []models.Message
	cursor := int64(0)
	for {
		page, err := a.DB.ListMessages(id, cursor, maxMessagePageSize)
		if err != nil {
			a.respondErr(w, r, err)
			return
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		cursor = page[len(page)-1].ID
		if len(page) < maxMessagePageSize {
			break
		}
	}
	// ListMessages returns newest-first pages; reverse to chronological order.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	format := r.URL.Query().Get("format")
	if format == "markdown" {
		var sb strings.Builder
		for _, m := range all {
			sender := "system"
			if m.SenderID != nil {
				if u, err := a.DB.GetUserByID(*m.SenderID); err == nil {
					sender = u.DisplayName
				}
			} else if m.Type == models.MessageAIResponse {
				sender = "assistant"
			}
			fmt.Fprintf(&sb, "**%s** (%s):\n%s\n\n", sender, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Content)
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sb.String()))
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ToMessageResponseList(all))
}

// SummarizeConversation synchronously asks the AI coordinator for a short
// summary of recent history. Rate-limited more tightly than the general API
// since it drives an upstream model call.
func (a *API) SummarizeConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := a.requireMembership(id, userIDFromContext(r)); err != nil {
		a.respondErr(w, r, err)
		return
	}
	summary, err := a.AI.Summarize(r.Context(), id)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// SmartReplies proposes quick-reply suggestions for the caller based on the
// conversation's recent messages.
func (a *API) SmartReplies(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := a.requireMembership(id, userIDFromContext(r)); err != nil {
		a.respondErr(w, r, err)
		return
	}
	replies, err := a.AI.SmartReplies(r.Context(), id)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string][]string{"replies": replies})
}

// AddMember adds a user to a GROUP conversation.
func (a *API) AddMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID := userIDFromContext(r)
	if err := a.requireMembership(id, userID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	var req models.AddMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.DB.AddMember(id, req.UserID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.Registry.Broadcast(realtime.ConversationRoom(id), realtime.NewEvent(realtime.OutGroupMemberAdded, map[string]interface{}{
		"conversationId": id, "userId": req.UserID,
	}))
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember removes a user from a GROUP conversation; the sole OWNER
// cannot be removed.
func (a *API) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	targetID, err := parseIDFromURL(r, "userId")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := a.requireMembership(id, userIDFromContext(r)); err != nil {
		a.respondErr(w, r, err)
		return
	}
	member, err := a.DB.GetMember(id, targetID)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if member.Role == models.RoleOwner {
		a.respondErr(w, r, apperr.Wrap(apperr.ErrConflict, "cannot remove the owner"))
		return
	}
	if err := a.DB.RemoveMember(id, targetID); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.Registry.Broadcast(realtime.ConversationRoom(id), realtime.NewEvent(realtime.OutGroupMemberRemoved, map[string]interface{}{
		"conversationId": id, "userId": targetID,
	}))
	w.WriteHeader(http.StatusNoContent)
}

// UpdateMemberRole changes a member's role within a GROUP conversation.
func (a *API) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromURL(r, "id")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	targetID, err := parseIDFromURL(r, "userId")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := a.requireMembership(id, userIDFromContext(r)); err != nil {
		a.respondErr(w, r, err)
		return
	}
	var req models.UpdateMemberRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.DB.UpdateMemberRole(id, targetID, req.Role); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.Registry.Broadcast(realtime.ConversationRoom(id), realtime.NewEvent(realtime.OutGroupUpdated, map[string]interface{}{
		"conversationId": id, "userId": targetID, "role": req.Role,
	}))
	w.WriteHeader(http.StatusNoContent)
}
