package database

import (
	"database/sql"
	"fmt"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// GetMember fetches a single membership row.
func (db *DB) GetMember(conversationID, userID int64) (*models.Member, error) {
	var m models.Member
	err := db.Get(&m, `SELECT * FROM members WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "not a member")
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

// IsMember reports membership without distinguishing not-a-member from
// no-such-conversation, per the spec's deliberate non-disclosure choice.
func (db *DB) IsMember(conversationID, userID int64) (bool, error) {
	var n int
	err := db.Get(&n, `SELECT count(*) FROM members WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns every member row of a conversation.
func (db *DB) ListMembers(conversationID int64) ([]models.Member, error) {
	var members []models.Member
	err := db.Select(&members, `SELECT * FROM members WHERE conversation_id = $1 ORDER BY joined_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// ListMemberUserIDs is a thin helper used throughout fan-out code that only
// needs the ids, not the full membership row.
func (db *DB) ListMemberUserIDs(conversationID int64) ([]int64, error) {
	var ids []int64
	err := db.Select(&ids, `SELECT user_id FROM members WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	return ids, nil
}

// AddMember inserts a new MEMBER row. Fails with conflict if already a member.
func (db *DB) AddMember(conversationID, userID int64) error {
	_, err := db.Exec(`
		INSERT INTO members (conversation_id, user_id, role) VALUES ($1, $2, 'MEMBER')`,
		conversationID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.ErrConflict, "already a member")
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row. The caller must have already
// confirmed the target is not the conversation's OWNER (the RemoveMember
// HTTP handler does this).
func (db *DB) RemoveMember(conversationID, userID int64) error {
	res, err := db.Exec(`DELETE FROM members WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "not a member")
	}
	return nil
}

// UpdateMemberRole changes a member's role. Rejects demoting the sole OWNER.
func (db *DB) UpdateMemberRole(conversationID, userID int64, role models.MemberRole) error {
	if role != models.RoleOwner {
		var currentRole models.MemberRole
		if err := db.Get(&currentRole, `SELECT role FROM members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID); err != nil {
			return fmt.Errorf("get current role: %w", err)
		}
		if currentRole == models.RoleOwner {
			return apperr.Wrap(apperr.ErrConflict, "cannot demote the owner")
		}
	}
	_, err := db.Exec(`UPDATE members SET role = $3 WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return nil
}

// SetLastRead stamps a member's read cursor to now.
func (db *DB) SetLastRead(conversationID, userID int64) error {
	_, err := db.Exec(`UPDATE members SET last_read_at = now() WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("set last read: %w", err)
	}
	return nil
}

// SetPinned toggles a member's per-view pin flag.
func (db *DB) SetPinned(conversationID, userID int64, pinned bool) error {
	_, err := db.Exec(`UPDATE members SET is_pinned = $3 WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, pinned)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	return nil
}

// CountOwners is used to guard "exactly one OWNER per GROUP" invariants.
func (db *DB) CountOwners(conversationID int64) (int, error) {
	var n int
	err := db.Get(&n, `SELECT count(*) FROM members WHERE conversation_id = $1 AND role = 'OWNER'`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return n, nil
}
