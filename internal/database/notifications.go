package database

import (
	"encoding/json"
	"fmt"

	"chatcore/internal/models"
)

// CreateNotification persists a durable notification row. Emission to the
// recipient's user room is a post-commit effect performed by the caller (the
// notification fan-out component), never inside the same transaction as the
// triggering message write (design note: offline notifications are a
// post-commit effect).
func (db *DB) CreateNotification(userID int64, kind models.NotificationKind, title, body string, data interface{}) (*models.Notification, error) {
	var raw []byte
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal notification data: %w", err)
		}
	}
	var n models.Notification
	err := db.Get(&n, `
		INSERT INTO notifications (user_id, kind, title, body, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`, userID, kind, title, body, raw)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return &n, nil
}

// ListNotifications returns a user's notifications, newest first.
func (db *DB) ListNotifications(userID int64, limit int) ([]models.Notification, error) {
	var ns []models.Notification
	err := db.Select(&ns, `
		SELECT * FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return ns, nil
}

// SetNotificationRead toggles a single notification's isRead flag, scoped to
// its owner.
func (db *DB) SetNotificationRead(id, userID int64, isRead bool) error {
	_, err := db.Exec(`UPDATE notifications SET is_read = $3 WHERE id = $1 AND user_id = $2`, id, userID, isRead)
	if err != nil {
		return fmt.Errorf("set notification read: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead is an idempotent "read all": applying it twice
// yields the same state as applying it once.
func (db *DB) MarkAllNotificationsRead(userID int64) error {
	_, err := db.Exec(`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
