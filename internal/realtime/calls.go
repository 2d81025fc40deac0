package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatcore/internal/apperr"
	"chatcore/internal/database"
	"chatcore/internal/models"
)

// CallMachine enforces the per-call state transitions of §4.5: RINGING ->
// {ACTIVE, REJECTED, CANCELLED}; ACTIVE -> ENDED. It owns the ring-timeout
// timer for each call it initiates.
type CallMachine struct {
	db  *database.DB
	reg *Registry
	log zerolog.Logger

	ringTimeout time.Duration

	mu      sync.Mutex
	timers  map[int64]*time.Timer
}

// NewCallMachine constructs a CallMachine. reg is set after construction via
// SetRegistry to break the Router/CallMachine/Registry construction order
// dependency the same way Router.SetGenerator does for the AI coordinator.
func NewCallMachine(db *database.DB, ringTimeout time.Duration, log zerolog.Logger) *CallMachine {
	return &CallMachine{db: db, ringTimeout: ringTimeout, log: log, timers: make(map[int64]*time.Timer)}
}

// SetRegistry wires the Registry after both are constructed.
func (cm *CallMachine) SetRegistry(reg *Registry) { cm.reg = reg }

// Initiate creates a RINGING call and arms its ring-timeout timer.
func (cm *CallMachine) Initiate(conversationID, callerID int64, calleeID *int64, kind models.CallKind) (*models.Call, error) {
	if _, err := cm.db.ActiveCall(conversationID); err == nil {
		return nil, apperr.Wrap(apperr.ErrConflict, "a call is already active in this conversation")
	}
	call, err := cm.db.InitiateCall(conversationID, callerID, calleeID, kind)
	if err != nil {
		return nil, err
	}
	cm.armRingTimeout(call.ID)

	room := ConversationRoom(conversationID)
	cm.reg.Broadcast(room, NewEvent(OutIncomingCall, models.ToCallResponse(call)))
	if calleeID != nil {
		cm.reg.BroadcastToUser(*calleeID, NewEvent(OutIncomingCall, models.ToCallResponse(call)))
	}
	return call, nil
}

func (cm *CallMachine) armRingTimeout(callID int64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.timers[callID] = time.AfterFunc(cm.ringTimeout, func() { cm.expire(callID) })
}

func (cm *CallMachine) disarm(callID int64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if t, ok := cm.timers[callID]; ok {
		t.Stop()
		delete(cm.timers, callID)
	}
}

func (cm *CallMachine) expire(callID int64) {
	cm.disarm(callID)
	call, err := cm.db.ExpireRinging(callID, time.Now().Add(-cm.ringTimeout+time.Millisecond))
	if err != nil {
		return
	}
	cm.reg.Broadcast(ConversationRoom(call.ConversationID), NewEvent(OutCallDeclined, models.ToCallResponse(call)))
}

// Accept transitions RINGING -> ACTIVE. Only the callee may accept.
func (cm *CallMachine) Accept(callID, userID int64) (*models.Call, error) {
	call, err := cm.db.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call.CalleeID == nil || *call.CalleeID != userID {
		return nil, apperr.Wrap(apperr.ErrForbidden, "only the callee can accept")
	}
	updated, err := cm.db.AcceptCall(callID)
	if err != nil {
		return nil, err
	}
	cm.disarm(callID)
	cm.reg.Broadcast(ConversationRoom(updated.ConversationID), NewEvent(OutCallAccepted, models.ToCallResponse(updated)))
	return updated, nil
}

// Reject transitions RINGING -> REJECTED. Either party may reject.
func (cm *CallMachine) Reject(callID, userID int64) (*models.Call, error) {
	call, err := cm.db.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call.CallerID != userID && (call.CalleeID == nil || *call.CalleeID != userID) {
		return nil, apperr.Wrap(apperr.ErrForbidden, "not a participant in this call")
	}
	updated, err := cm.db.RejectCall(callID, userID)
	if err != nil {
		return nil, err
	}
	cm.disarm(callID)
	cm.reg.Broadcast(ConversationRoom(updated.ConversationID), NewEvent(OutCallDeclined, models.ToCallResponse(updated)))
	return updated, nil
}

// Cancel transitions RINGING -> CANCELLED. Only the caller may cancel.
func (cm *CallMachine) Cancel(callID, userID int64) (*models.Call, error) {
	call, err := cm.db.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call.CallerID != userID {
		return nil, apperr.Wrap(apperr.ErrForbidden, "only the caller can cancel")
	}
	updated, err := cm.db.CancelCall(callID)
	if err != nil {
		return nil, err
	}
	cm.disarm(callID)
	cm.reg.Broadcast(ConversationRoom(updated.ConversationID), NewEvent(OutCallCancelled, models.ToCallResponse(updated)))
	return updated, nil
}

// End transitions any non-terminal call to ENDED. Either participant may end.
func (cm *CallMachine) End(callID, userID int64) (*models.Call, error) {
	call, err := cm.db.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call.CallerID != userID && (call.CalleeID == nil || *call.CalleeID != userID) {
		return nil, apperr.Wrap(apperr.ErrForbidden, "not a participant in this call")
	}
	updated, err := cm.db.EndCall(callID)
	if err != nil {
		return nil, err
	}
	cm.disarm(callID)
	cm.reg.Broadcast(ConversationRoom(updated.ConversationID), NewEvent(OutCallEnded, models.ToCallResponse(updated)))
	return updated, nil
}

// EndAllForUserInConversation implicitly ends any call a disconnecting user
// was participating in (their connection set just emptied), per §4.5
// "disconnection of a participant in an active call is treated as an
// implicit end".
func (cm *CallMachine) EndAllForUserInConversation(conversationID, userID int64) {
	call, err := cm.db.ActiveCall(conversationID)
	if err != nil {
		return
	}
	if call.CallerID != userID && (call.CalleeID == nil || *call.CalleeID != userID) {
		return
	}
	if call.Status == models.CallRinging {
		if _, err := cm.Reject(call.ID, userID); err != nil {
			cm.log.Warn().Err(err).Int64("callId", call.ID).Msg("implicit reject on disconnect failed")
		}
		return
	}
	if _, err := cm.End(call.ID, userID); err != nil {
		cm.log.Warn().Err(err).Int64("callId", call.ID).Msg("implicit end on disconnect failed")
	}
}
