// Package models defines the core data structures used throughout the application,
// representing database entities, API request/response bodies, and internal data contracts.
package models

import (
	"encoding/json"
	"time"
)

// --- Enumerations ---

type ConversationKind string

const (
	ConversationDirect ConversationKind = "DIRECT"
	ConversationGroup  ConversationKind = "GROUP"
	ConversationAIChat ConversationKind = "AI_CHAT"
)

type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

type MessageType string

const (
	MessageText       MessageType = "TEXT"
	MessageImage      MessageType = "IMAGE"
	MessageVideo      MessageType = "VIDEO"
	MessageAudio      MessageType = "AUDIO"
	MessageFile       MessageType = "FILE"
	MessageSystem     MessageType = "SYSTEM"
	MessageAIResponse MessageType = "AI_RESPONSE"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

type CallKind string

const (
	CallAudio CallKind = "AUDIO"
	CallVideo CallKind = "VIDEO"
)

type CallStatus string

const (
	CallRinging   CallStatus = "RINGING"
	CallActive    CallStatus = "ACTIVE"
	CallEnded     CallStatus = "ENDED"
	CallRejected  CallStatus = "REJECTED"
	CallCancelled CallStatus = "CANCELLED"
)

type NotificationKind string

const (
	NotifyNewMessage  NotificationKind = "NEW_MESSAGE"
	NotifyMention     NotificationKind = "MENTION"
	NotifyCallMissed  NotificationKind = "CALL_MISSED"
	NotifyGroupInvite NotificationKind = "GROUP_INVITE"
	NotifyAIComplete  NotificationKind = "AI_COMPLETE"
)

// --- Database entities ---

// User represents a row in the 'users' table.
type User struct {
	ID             int64      `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	DisplayName    string     `db:"display_name" json:"displayName"`
	AvatarURL      *string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	Bio            *string    `db:"bio" json:"bio,omitempty"`
	Status         *string    `db:"status" json:"status,omitempty"`
	PasswordHash   *string    `db:"password_hash" json:"-"`
	GoogleSubject  *string    `db:"google_subject" json:"-"`
	Online         bool       `db:"online" json:"online"`
	LastSeenAt     *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// Conversation represents a row in the 'conversations' table.
type Conversation struct {
	ID            int64            `db:"id" json:"id"`
	Kind          ConversationKind `db:"kind" json:"kind"`
	Title         *string          `db:"title" json:"title,omitempty"`
	GroupName     *string          `db:"group_name" json:"groupName,omitempty"`
	Description   *string          `db:"description" json:"description,omitempty"`
	SystemPrompt  *string          `db:"system_prompt" json:"systemPrompt,omitempty"`
	CreatedByID   int64            `db:"created_by_id" json:"createdById"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// Member represents a row in the 'members' table, the join of a user into a conversation.
type Member struct {
	ConversationID int64      `db:"conversation_id" json:"conversationId"`
	UserID         int64      `db:"user_id" json:"userId"`
	Role           MemberRole `db:"role" json:"role"`
	IsPinned       bool       `db:"is_pinned" json:"isPinned"`
	IsMuted        bool       `db:"is_muted" json:"isMuted"`
	LastReadAt     *time.Time `db:"last_read_at" json:"lastReadAt,omitempty"`
	JoinedAt       time.Time  `db:"joined_at" json:"joinedAt"`
}

// Message represents a row in the 'messages' table.
type Message struct {
	ID             int64         `db:"id" json:"id"`
	ConversationID int64         `db:"conversation_id" json:"conversationId"`
	SenderID       *int64        `db:"sender_id" json:"senderId,omitempty"`
	Type           MessageType   `db:"type" json:"type"`
	Content        string        `db:"content" json:"content"`
	Status         MessageStatus `db:"status" json:"status"`
	ReplyToID      *int64        `db:"reply_to_id" json:"replyToId,omitempty"`
	IsEdited       bool          `db:"is_edited" json:"isEdited"`
	IsDeleted      bool          `db:"is_deleted" json:"isDeleted"`
	DeletedAt      *time.Time    `db:"deleted_at" json:"deletedAt,omitempty"`
	TokenCount     int           `db:"token_count" json:"tokenCount"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
}

// Attachment represents a row in the 'attachments' table.
type Attachment struct {
	ID            int64   `db:"id" json:"id"`
	MessageID     int64   `db:"message_id" json:"messageId"`
	FileURL       string  `db:"file_url" json:"fileUrl"`
	FileName      string  `db:"file_name" json:"fileName"`
	FileSize      int64   `db:"file_size" json:"fileSize"`
	MimeType      string  `db:"mime_type" json:"mimeType"`
	ThumbnailURL  *string `db:"thumbnail_url" json:"thumbnailUrl,omitempty"`
	Width         *int    `db:"width" json:"width,omitempty"`
	Height        *int    `db:"height" json:"height,omitempty"`
}

// Reaction represents a row in the 'reactions' table.
type Reaction struct {
	MessageID int64     `db:"message_id" json:"messageId"`
	UserID    int64     `db:"user_id" json:"userId"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Call represents a row in the 'calls' table.
type Call struct {
	ID             int64      `db:"id" json:"id"`
	ConversationID int64      `db:"conversation_id" json:"conversationId"`
	CallerID       int64      `db:"caller_id" json:"callerId"`
	CalleeID       *int64     `db:"callee_id" json:"calleeId,omitempty"`
	Kind           CallKind   `db:"kind" json:"kind"`
	Status         CallStatus `db:"status" json:"status"`
	StartedAt      *time.Time `db:"started_at" json:"startedAt,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	Duration       int        `db:"duration" json:"duration"`
	// DeclinedBy is the user who rejected the call; nil when the call was
	// never rejected by a human (accepted, cancelled, or auto-expired).
	DeclinedBy *int64    `db:"declined_by" json:"declinedBy,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Block represents a row in the 'blocks' table.
type Block struct {
	BlockerID int64     `db:"blocker_id" json:"blockerId"`
	BlockedID int64     `db:"blocked_id" json:"blockedId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Notification represents a row in the 'notifications' table.
type Notification struct {
	ID        int64            `db:"id" json:"id"`
	UserID    int64            `db:"user_id" json:"userId"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	Data      json.RawMessage  `db:"data" json:"data,omitempty"`
	IsRead    bool             `db:"is_read" json:"isRead"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// --- Configuration ---

// S3Config holds the configuration for connecting to an S3-compatible service.
type S3Config struct {
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
	Bucket   string
}

// --- HTTP request payloads ---

type SignupRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required_without=GoogleIDToken,omitempty,min=8"`
	DisplayName string `json:"displayName" validate:"required,max=80"`
	GoogleIDToken string `json:"googleIdToken" validate:"omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type CreateConversationRequest struct {
	Kind      ConversationKind `json:"kind" validate:"required,oneof=DIRECT GROUP AI_CHAT"`
	MemberIDs []int64          `json:"memberIds" validate:"omitempty,dive,gt=0"`
	GroupName string           `json:"groupName" validate:"omitempty,max=120"`
	SystemPrompt string        `json:"systemPrompt" validate:"omitempty,max=8000"`
}

type UpdateConversationRequest struct {
	Title        *string `json:"title" validate:"omitempty,max=200"`
	GroupName    *string `json:"groupName" validate:"omitempty,max=120"`
	Description  *string `json:"description" validate:"omitempty,max=2000"`
	SystemPrompt *string `json:"systemPrompt" validate:"omitempty,max=8000"`
}

type AddMemberRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

type UpdateMemberRoleRequest struct {
	Role MemberRole `json:"role" validate:"required,oneof=OWNER ADMIN MEMBER"`
}

type UpdateUserRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=80"`
	AvatarURL   *string `json:"avatarUrl" validate:"omitempty,max=2000"`
	Bio         *string `json:"bio" validate:"omitempty,max=2000"`
	Status      *string `json:"status" validate:"omitempty,max=200"`
}

// --- HTTP response DTOs ---

type AuthResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         UserResponse `json:"user"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type UserResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	AvatarURL   *string    `json:"avatarUrl,omitempty"`
	Bio         *string    `json:"bio,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

// ToUserResponse converts a User DB model to its safe API representation.
func ToUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		Status:      u.Status,
		Online:      u.Online,
		LastSeenAt:  u.LastSeenAt,
	}
}

// ToUserResponseList converts a slice of Users to their safe API representation.
func ToUserResponseList(users []User) []UserResponse {
	out := make([]UserResponse, len(users))
	for i := range users {
		out[i] = ToUserResponse(&users[i])
	}
	return out
}

type ConversationResponse struct {
	ID           int64            `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Title        *string          `json:"title,omitempty"`
	GroupName    *string          `json:"groupName,omitempty"`
	Description  *string          `json:"description,omitempty"`
	SystemPrompt *string          `json:"systemPrompt,omitempty"`
	CreatedByID  int64            `json:"createdById"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	UnreadHint   bool             `json:"unreadHint,omitempty"`
}

// ToConversationResponse converts a Conversation DB model to its API representation.
func ToConversationResponse(c *Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           c.ID,
		Kind:         c.Kind,
		Title:        c.Title,
		GroupName:    c.GroupName,
		Description:  c.Description,
		SystemPrompt: c.SystemPrompt,
		CreatedByID:  c.CreatedByID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type MessageResponse struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversationId"`
	SenderID       *int64            `json:"senderId,omitempty"`
	Type           MessageType       `json:"type"`
	Content        string            `json:"content"`
	Status         MessageStatus     `json:"status"`
	ReplyToID      *int64            `json:"replyToId,omitempty"`
	IsEdited       bool              `json:"isEdited"`
	IsDeleted      bool              `json:"isDeleted"`
	TokenCount     int               `json:"tokenCount"`
	CreatedAt      time.Time         `json:"createdAt"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	Reactions      []Reaction        `json:"reactions,omitempty"`
}

// ToMessageResponse converts a Message DB model to its API representation.
func ToMessageResponse(m *Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        m.Content,
		Status:         m.Status,
		ReplyToID:      m.ReplyToID,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		TokenCount:     m.TokenCount,
		CreatedAt:      m.CreatedAt,
	}
}

// ToMessageResponseList converts a slice of Messages to their API representation.
func ToMessageResponseList(msgs []Message) []MessageResponse {
	out := make([]MessageResponse, len(msgs))
	for i := range msgs {
		out[i] = ToMessageResponse(&msgs[i])
	}
	return out
}

type CallResponse struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	CallerID       int64      `json:"callerId"`
	CalleeID       *int64     `json:"calleeId,omitempty"`
	Kind           CallKind   `json:"kind"`
	Status         CallStatus `json:"status"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Duration       int        `json:"duration"`
	DeclinedBy     *int64     `json:"declinedBy,omitempty"`
}

func ToCallResponse(c *Call) CallResponse {
	return CallResponse{
		ID:             c.ID,
		ConversationID: c.ConversationID,
		CallerID:       c.CallerID,
		CalleeID:       c.CalleeID,
		Kind:           c.Kind,
		Status:         c.Status,
		StartedAt:      c.StartedAt,
		EndedAt:        c.EndedAt,
		Duration:       c.Duration,
		DeclinedBy:     c.DeclinedBy,
	}
}

type NotificationResponse struct {
	ID        int64            `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      json.RawMessage  `json:"data,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

func ToNotificationResponse(n *Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func ToNotificationResponseList(ns []Notification) []NotificationResponse {
	out := make([]NotificationResponse, len(ns))
	for i := range ns {
		out[i] = ToNotificationResponse(&ns[i])
	}
	return out
}
