package realtime

import "chatcore/internal/models"

type callInitiateReq struct {
	ConversationID int64          `json:"conversationId"`
	CalleeID       *int64         `json:"calleeId,omitempty"`
	Kind           models.CallKind `json:"kind"`
}

func (rt *Router) handleCallInitiate(c *Client, ev Event) {
	req, err := decode[callInitiateReq](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if !rt.requireMembership(c, req.ConversationID) {
		return
	}
	if req.CalleeID != nil {
		if ok, err := rt.db.IsMember(req.ConversationID, *req.CalleeID); err != nil || !ok {
			c.sendError("callee is not a member", "validation")
			return
		}
	}
	kind := req.Kind
	if kind == "" {
		kind = models.CallAudio
	}
	if _, err := rt.calls.Initiate(req.ConversationID, c.userID, req.CalleeID, kind); err != nil {
		c.sendError(err.Error(), "conflict")
	}
}

type callRef struct {
	CallID int64 `json:"callId"`
}

func (rt *Router) handleCallAccept(c *Client, ev Event) {
	req, err := decode[callRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if _, err := rt.calls.Accept(req.CallID, c.userID); err != nil {
		c.sendError(err.Error(), "conflict")
	}
}

func (rt *Router) handleCallReject(c *Client, ev Event) {
	req, err := decode[callRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if _, err := rt.calls.Reject(req.CallID, c.userID); err != nil {
		c.sendError(err.Error(), "conflict")
	}
}

func (rt *Router) handleCallCancel(c *Client, ev Event) {
	req, err := decode[callRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if _, err := rt.calls.Cancel(req.CallID, c.userID); err != nil {
		c.sendError(err.Error(), "conflict")
	}
}

func (rt *Router) handleCallEnd(c *Client, ev Event) {
	req, err := decode[callRef](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if _, err := rt.calls.End(req.CallID, c.userID); err != nil {
		c.sendError(err.Error(), "conflict")
	}
}

// signalPayload carries a WebRTC offer/answer/ice payload addressed to a
// target connection id. The core never inspects sdp/candidate; it only
// relays the envelope, tagging it with the sender's connection id.
type signalPayload struct {
	TargetConnID string `json:"targetConnectionId"`
	ICERestart   bool   `json:"iceRestart,omitempty"`
}

func (rt *Router) handleSignal(c *Client, ev Event) {
	req, err := decode[signalPayload](ev)
	if err != nil {
		badPayload(c)
		return
	}
	if req.TargetConnID == "" {
		badPayload(c)
		return
	}
	relay := map[string]interface{}{
		"fromConnectionId": c.id,
		"payload":          ev.Data,
	}
	rt.reg.SendTo(req.TargetConnID, NewEvent(ev.Event, relay))
	if req.ICERestart {
		rt.reg.SendTo(c.id, NewEvent("webrtc-ice-restart-ack", map[string]string{"targetConnectionId": req.TargetConnID}))
	}
}
