package database

import (
	"database/sql"
	"fmt"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// CreateMessage persists a new message and advances the conversation's
// updated_at in the same transaction.
func (db *DB) CreateMessage(conversationID int64, senderID *int64, msgType models.MessageType, content string, replyToID *int64) (*models.Message, error) {
	tx, err := db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	var m models.Message
	if err := tx.Get(&m, `
		INSERT INTO messages (conversation_id, sender_id, type, content, reply_to_id, status)
		VALUES ($1, $2, $3, $4, $5, 'SENT')
		RETURNING *`, conversationID, senderID, msgType, content, replyToID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return &m, nil
}

// CreateMessageWithID persists a message using a pre-assigned id — used by the
// AI coordinator, which must hand out a messageId for ai-stream-start before
// the row exists.
func (db *DB) CreateMessageWithID(id, conversationID int64, msgType models.MessageType, content string) (*models.Message, error) {
	var m models.Message
	err := db.Get(&m, `
		INSERT INTO messages (id, conversation_id, sender_id, type, content, status)
		VALUES ($1, $2, NULL, $3, $4, 'SENT')
		RETURNING *`, id, conversationID, msgType, content)
	if err != nil {
		return nil, fmt.Errorf("insert message with id: %w", err)
	}
	if err := db.TouchConversation(conversationID); err != nil {
		return nil, err
	}
	return &m, nil
}

// NextMessageID reserves an id from the messages_id_seq without inserting a
// row, so the caller can reference it (e.g. in an ai-stream-start event)
// before the row is written.
func (db *DB) NextMessageID() (int64, error) {
	var id int64
	if err := db.Get(&id, `SELECT nextval(pg_get_serial_sequence('messages', 'id'))`); err != nil {
		return 0, fmt.Errorf("next message id: %w", err)
	}
	return id, nil
}

// GetMessage fetches a single message by id.
func (db *DB) GetMessage(id int64) (*models.Message, error) {
	var m models.Message
	err := db.Get(&m, `SELECT * FROM messages WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// ListMessages returns a page of a conversation's messages ordered newest
// first (by created_at, then id), at most limit long. cursor is a message id:
// 0 gives the newest page, any other value restricts the page to messages
// whose id is below it.
func (db *DB) ListMessages(conversationID int64, cursor int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	var err error
	if cursor <= 0 {
		err = db.Select(&msgs, `
			SELECT * FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2`, conversationID, limit)
	} else {
		err = db.Select(&msgs, `
			SELECT * FROM messages WHERE conversation_id = $1 AND id < $2
			ORDER BY created_at DESC, id DESC LIMIT $3`, conversationID, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ContextMessages loads the newest maxCount non-deleted TEXT/AI_RESPONSE
// messages of a conversation, in ascending order, for AI context assembly
// (§4.6). Trimming by character budget happens in the AI coordinator.
func (db *DB) ContextMessages(conversationID int64, maxCount int) ([]models.Message, error) {
	var msgs []models.Message
	err := db.Select(&msgs, `
		SELECT * FROM messages
		WHERE conversation_id = $1 AND is_deleted = FALSE AND type IN ('TEXT', 'AI_RESPONSE')
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, conversationID, maxCount)
	if err != nil {
		return nil, fmt.Errorf("context messages: %w", err)
	}
	// reverse to ascending order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// EditMessageCascading edits a TEXT message and, when cascade is true (the
// conversation is an AI_CHAT), hard-deletes every later message in the same
// transaction — per the design note that this must be one transactional unit
// with the edit itself, else a crash leaves a history the model can't
// reproduce. Returns the edited message and the ids of any cascaded deletes.
func (db *DB) EditMessageCascading(id, senderID int64, content string, cascade bool) (*models.Message, []int64, error) {
	tx, err := db.Beginx()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	var m models.Message
	if err := tx.Get(&m, `
		UPDATE messages SET content = $3, is_edited = TRUE
		WHERE id = $1 AND sender_id = $2 AND type = 'TEXT' AND is_deleted = FALSE
		RETURNING *`, id, senderID, content); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, nil, apperr.Wrap(apperr.ErrForbidden, "cannot edit this message")
		}
		return nil, nil, fmt.Errorf("edit message: %w", err)
	}

	var cascaded []int64
	if cascade {
		if err := tx.Select(&cascaded, `
			DELETE FROM messages WHERE conversation_id = $1 AND created_at > $2
			RETURNING id`, m.ConversationID, m.CreatedAt); err != nil {
			tx.Rollback()
			return nil, nil, fmt.Errorf("cascade delete after: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit edit cascade: %w", err)
	}
	return &m, cascaded, nil
}

// DeleteMessage soft-deletes a message by id. It does not check ownership;
// the realtime delete handler allows only the message's author.
func (db *DB) DeleteMessage(id int64) (*models.Message, error) {
	var m models.Message
	err := db.Get(&m, `
		UPDATE messages SET is_deleted = TRUE, deleted_at = now(), content = ''
		WHERE id = $1
		RETURNING *`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return &m, nil
}

// DeleteMostRecentAIResponse removes the newest AI_RESPONSE message in a
// conversation, used by regenerate-response. Returns the deleted message, or
// ErrNotFound if there is none.
func (db *DB) DeleteMostRecentAIResponse(conversationID int64) (*models.Message, error) {
	var m models.Message
	err := db.Get(&m, `
		DELETE FROM messages
		WHERE id = (
			SELECT id FROM messages
			WHERE conversation_id = $1 AND type = 'AI_RESPONSE' AND is_deleted = FALSE
			ORDER BY created_at DESC, id DESC LIMIT 1
		)
		RETURNING *`, conversationID)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no ai response to regenerate")
	}
	if err != nil {
		return nil, fmt.Errorf("delete most recent ai response: %w", err)
	}
	return &m, nil
}

// MostRecentTextBySender finds the newest TEXT message authored by senderID,
// used to locate the prompt to resubmit on regeneration.
func (db *DB) MostRecentTextBySender(conversationID, senderID int64) (*models.Message, error) {
	var m models.Message
	err := db.Get(&m, `
		SELECT * FROM messages
		WHERE conversation_id = $1 AND sender_id = $2 AND type = 'TEXT' AND is_deleted = FALSE
		ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID, senderID)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no prior message to regenerate")
	}
	if err != nil {
		return nil, fmt.Errorf("most recent text by sender: %w", err)
	}
	return &m, nil
}

// MarkAllRead marks every message in a conversation not authored by userID
// and not already READ as READ. Idempotent.
func (db *DB) MarkAllRead(conversationID, userID int64) error {
	_, err := db.Exec(`
		UPDATE messages SET status = 'READ'
		WHERE conversation_id = $1
		  AND status != 'READ'
		  AND (sender_id IS NULL OR sender_id != $2)`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// InsertAttachments attaches uploaded files to a just-created message.
func (db *DB) InsertAttachments(messageID int64, atts []models.Attachment) error {
	for _, a := range atts {
		_, err := db.Exec(`
			INSERT INTO attachments (message_id, file_url, file_name, file_size, mime_type, thumbnail_url, width, height)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			messageID, a.FileURL, a.FileName, a.FileSize, a.MimeType, a.ThumbnailURL, a.Width, a.Height)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

// AttachmentsFor returns a message's attachments.
func (db *DB) AttachmentsFor(messageID int64) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := db.Select(&atts, `SELECT * FROM attachments WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, fmt.Errorf("attachments for: %w", err)
	}
	return atts, nil
}

// ToggleReaction implements the (messageId, userId, emoji) toggle: inserting
// an existing tuple removes it.
func (db *DB) ToggleReaction(messageID, userID int64, emoji string) ([]models.Reaction, error) {
	res, err := db.Exec(`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`, messageID, userID, emoji)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := db.Exec(`INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)`, messageID, userID, emoji); err != nil {
			return nil, fmt.Errorf("toggle reaction insert: %w", err)
		}
	}
	return db.ReactionsFor(messageID)
}

// ReactionsFor returns the full reaction set for a message.
func (db *DB) ReactionsFor(messageID int64) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := db.Select(&reactions, `SELECT * FROM reactions WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, fmt.Errorf("reactions for: %w", err)
	}
	return reactions, nil
}
