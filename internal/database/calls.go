package database

import (
	"database/sql"
	"fmt"
	"time"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// ActiveCall returns the conversation's non-terminal call, if any.
func (db *DB) ActiveCall(conversationID int64) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		SELECT * FROM calls WHERE conversation_id = $1 AND status IN ('RINGING','ACTIVE')
		ORDER BY created_at DESC LIMIT 1`, conversationID)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no active call")
	}
	if err != nil {
		return nil, fmt.Errorf("active call: %w", err)
	}
	return &c, nil
}

// InitiateCall creates a RINGING call row, guarding against a second
// non-terminal call in the same conversation with a unique partial check done
// at the application layer (ActiveCall is checked first by the caller under
// the per-conversation call-machine lock).
func (db *DB) InitiateCall(conversationID, callerID int64, calleeID *int64, kind models.CallKind) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		INSERT INTO calls (conversation_id, caller_id, callee_id, kind, status)
		VALUES ($1, $2, $3, $4, 'RINGING')
		RETURNING *`, conversationID, callerID, calleeID, kind)
	if err != nil {
		return nil, fmt.Errorf("initiate call: %w", err)
	}
	return &c, nil
}

// GetCall fetches a call row by id.
func (db *DB) GetCall(id int64) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `SELECT * FROM calls WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "call not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return &c, nil
}

// AcceptCall transitions RINGING -> ACTIVE, stamping startedAt.
func (db *DB) AcceptCall(id int64) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		UPDATE calls SET status = 'ACTIVE', started_at = now()
		WHERE id = $1 AND status = 'RINGING'
		RETURNING *`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrConflict, "call is not ringing")
	}
	if err != nil {
		return nil, fmt.Errorf("accept call: %w", err)
	}
	return &c, nil
}

// RejectCall transitions RINGING -> REJECTED, recording declinedBy so the
// wire event can distinguish a human decline from a ring-timeout expiry.
func (db *DB) RejectCall(id, declinedBy int64) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		UPDATE calls SET status = 'REJECTED', ended_at = now(), declined_by = $2
		WHERE id = $1 AND status = 'RINGING'
		RETURNING *`, id, declinedBy)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrConflict, "call is not ringing")
	}
	if err != nil {
		return nil, fmt.Errorf("reject call: %w", err)
	}
	return &c, nil
}

// CancelCall transitions RINGING -> CANCELLED.
func (db *DB) CancelCall(id int64) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		UPDATE calls SET status = 'CANCELLED', ended_at = now()
		WHERE id = $1 AND status = 'RINGING'
		RETURNING *`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrConflict, "call is not ringing")
	}
	if err != nil {
		return nil, fmt.Errorf("cancel call: %w", err)
	}
	return &c, nil
}

// EndCall transitions any non-terminal call to ENDED, computing duration as
// floor((endedAt - startedAt)/1s), zero when startedAt is null.
func (db *DB) EndCall(id int64) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		UPDATE calls SET
			status = 'ENDED',
			ended_at = now(),
			duration = CASE WHEN started_at IS NULL THEN 0
			                ELSE GREATEST(0, floor(extract(epoch FROM (now() - started_at))))::int END
		WHERE id = $1 AND status IN ('RINGING','ACTIVE')
		RETURNING *`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrConflict, "call already ended")
	}
	if err != nil {
		return nil, fmt.Errorf("end call: %w", err)
	}
	return &c, nil
}

// ExpireRinging auto-rejects a RINGING call that has been ringing past the
// timeout, used by the ring-timeout timer (§9 Open Question decision).
func (db *DB) ExpireRinging(id int64, cutoff time.Time) (*models.Call, error) {
	var c models.Call
	err := db.Get(&c, `
		UPDATE calls SET status = 'REJECTED', ended_at = now()
		WHERE id = $1 AND status = 'RINGING' AND created_at <= $2
		RETURNING *`, id, cutoff)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "nothing to expire")
	}
	if err != nil {
		return nil, fmt.Errorf("expire ringing: %w", err)
	}
	return &c, nil
}

// ListCallsForUser returns calls the user participated in, newest first.
func (db *DB) ListCallsForUser(userID int64) ([]models.Call, error) {
	var calls []models.Call
	err := db.Select(&calls, `
		SELECT * FROM calls WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC LIMIT 100`, userID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return calls, nil
}
