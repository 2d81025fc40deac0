package realtime

import "encoding/json"

// Event is the wire envelope for every inbound and outbound realtime message:
// {"event": "...", "data": {...}}.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound event names — the fixed catalog the Room Router dispatches on.
// Anything outside this set is dropped after logging.
const (
	InJoinConversation  = "join-conversation"
	InLeaveConversation = "leave-conversation"
	InSendMessage       = "send-message"
	InTypingStart       = "typing-start"
	InTypingStop        = "typing-stop"
	InEditMessage       = "edit-message"
	InDeleteMessage     = "delete-message"
	InReact             = "react"
	InMessageRead       = "message-read"
	InRegenerate        = "regenerate-response"
	InStopGeneration    = "stop-generation"
	InCallInitiate      = "call-initiate"
	InCallAccept        = "call-accept"
	InCallReject        = "call-reject"
	InCallCancel        = "call-cancel"
	InCallEnd           = "call-end"
	InWebRTCOffer       = "webrtc-offer"
	InWebRTCAnswer      = "webrtc-answer"
	InWebRTCICE         = "webrtc-ice"
)

// Outbound event names — disjoint from the inbound catalog.
const (
	OutNewMessage         = "new-message"
	OutMessageUpdated     = "message-updated"
	OutMessageDeleted     = "message-deleted"
	OutReactionUpdated    = "message-reaction-updated"
	OutMessageStatus      = "message-status-update"
	OutTyping             = "typing"
	OutConversationUpdate = "conversation-updated"
	OutGroupUpdated       = "group-updated"
	OutGroupMemberAdded   = "group-member-added"
	OutGroupMemberRemoved = "group-member-removed"
	OutAIStreamStart      = "ai-stream-start"
	OutAIStreamChunk      = "ai-stream-chunk"
	OutAIStreamEnd        = "ai-stream-end"
	OutAIStreamError      = "ai-stream-error"
	OutUserOnline         = "user-online"
	OutUserOffline        = "user-offline"
	OutIncomingCall       = "incoming-call"
	OutCallAccepted       = "call-accepted"
	OutCallDeclined       = "call-declined"
	OutCallCancelled      = "call-cancelled"
	OutCallEnded          = "call-ended"
	OutNewNotification    = "new-notification"
	OutPeerLeft           = "peer:left"
	OutError              = "error"
)

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("realtime: unmarshalable event payload: " + err.Error())
	}
	return raw
}

// NewEvent builds an Event envelope from a name and a payload value.
func NewEvent(name string, payload interface{}) Event {
	return Event{Event: name, Data: mustMarshal(payload)}
}

// ErrorPayload is the data of an outbound `error` event.
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
