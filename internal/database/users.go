package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// CreateUser inserts a new user row with a password hash. email is stored as-is;
// uniqueness is enforced case-insensitively by the users_email_lower_idx index.
func (db *DB) CreateUser(email, displayName, passwordHash string) (*models.User, error) {
	var u models.User
	err := db.Get(&u, `
		INSERT INTO users (email, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING *`, email, displayName, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.ErrConflict, "email_taken")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// CreateUserWithGoogleSubject inserts or reuses a user bound to a Google identity.
func (db *DB) CreateUserWithGoogleSubject(email, displayName, subject string) (*models.User, error) {
	var u models.User
	err := db.Get(&u, `
		INSERT INTO users (email, display_name, google_subject)
		VALUES ($1, $2, $3)
		ON CONFLICT (google_subject) DO UPDATE SET google_subject = EXCLUDED.google_subject
		RETURNING *`, email, displayName, subject)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.ErrConflict, "email_taken")
		}
		return nil, fmt.Errorf("create google user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail fetches a user case-insensitively by email.
func (db *DB) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	err := db.Get(&u, `SELECT * FROM users WHERE lower(email) = lower($1)`, email)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user_not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// GetUserByGoogleSubject fetches a user by their bound Google identity.
func (db *DB) GetUserByGoogleSubject(subject string) (*models.User, error) {
	var u models.User
	err := db.Get(&u, `SELECT * FROM users WHERE google_subject = $1`, subject)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user_not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by google subject: %w", err)
	}
	return &u, nil
}

// GetUserByID fetches a user by id.
func (db *DB) GetUserByID(id int64) (*models.User, error) {
	var u models.User
	err := db.Get(&u, `SELECT * FROM users WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user_not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// SetOnline flips the denormalized online flag. The Connection Registry is the
// source of truth for presence; this mirrors its edge-triggered transitions so
// REST reads of a user's profile don't need to consult the registry directly.
func (db *DB) SetOnline(userID int64, online bool) error {
	_, err := db.Exec(`UPDATE users SET online = $2 WHERE id = $1`, userID, online)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// SetLastSeen records the instant a user's connection set became empty.
func (db *DB) SetLastSeen(userID int64, at time.Time) error {
	_, err := db.Exec(`UPDATE users SET online = FALSE, last_seen_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}

// UpdateUser patches the mutable profile fields of a user.
func (db *DB) UpdateUser(userID int64, req models.UpdateUserRequest) (*models.User, error) {
	var u models.User
	err := db.Get(&u, `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			avatar_url   = COALESCE($3, avatar_url),
			bio          = COALESCE($4, bio),
			status       = COALESCE($5, status)
		WHERE id = $1
		RETURNING *`, userID, req.DisplayName, req.AvatarURL, req.Bio, req.Status)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user_not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &u, nil
}

// SearchUsers returns users whose email or display name matches q, excluding
// anyone who has blocked, or is blocked by, excludeID (symmetric filter).
func (db *DB) SearchUsers(q string, excludeID int64) ([]models.User, error) {
	var users []models.User
	pattern := "%" + strings.ToLower(q) + "%"
	err := db.Select(&users, `
		SELECT u.* FROM users u
		WHERE u.id != $2
		  AND (lower(u.email) LIKE $1 OR lower(u.display_name) LIKE $1)
		  AND NOT EXISTS (
		      SELECT 1 FROM blocks b
		      WHERE (b.blocker_id = $2 AND b.blocked_id = u.id)
		         OR (b.blocker_id = u.id AND b.blocked_id = $2)
		  )
		ORDER BY u.display_name
		LIMIT 25`, pattern, excludeID)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// IsBlocked reports whether either user has blocked the other.
func (db *DB) IsBlocked(userA, userB int64) (bool, error) {
	var n int
	err := db.Get(&n, `
		SELECT count(*) FROM blocks
		WHERE (blocker_id = $1 AND blocked_id = $2)
		   OR (blocker_id = $2 AND blocked_id = $1)`, userA, userB)
	if err != nil {
		return false, fmt.Errorf("is blocked: %w", err)
	}
	return n > 0, nil
}

// BlockUser records a one-directional block.
func (db *DB) BlockUser(blockerID, blockedID int64) error {
	_, err := db.Exec(`
		INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// UnblockUser removes a one-directional block.
func (db *DB) UnblockUser(blockerID, blockedID int64) error {
	_, err := db.Exec(`DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	return nil
}

// ListBlocked returns the users that userID has blocked.
func (db *DB) ListBlocked(userID int64) ([]models.User, error) {
	var users []models.User
	err := db.Select(&users, `
		SELECT u.* FROM users u
		JOIN blocks b ON b.blocked_id = u.id
		WHERE b.blocker_id = $1
		ORDER BY u.display_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list blocked: %w", err)
	}
	return users, nil
}

// DeleteUser removes a user row; ON DELETE CASCADE on dependent tables
// (members, reactions, notifications, blocks) removes the rest.
func (db *DB) DeleteUser(userID int64) error {
	_, err := db.Exec(`DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value") || strings.Contains(err.Error(), "unique constraint")
}
