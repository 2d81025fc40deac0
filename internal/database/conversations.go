package database

import (
	"database/sql"
	"fmt"

	"chatcore/internal/apperr"
	"chatcore/internal/models"
)

// GetConversation fetches a conversation by id.
func (db *DB) GetConversation(id int64) (*models.Conversation, error) {
	var c models.Conversation
	err := db.Get(&c, `SELECT * FROM conversations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// FindDirectConversation returns the existing DIRECT conversation between the
// two users, if any. Used to enforce the "DIRECT dedup" scenario: repeating a
// create-DIRECT request returns the same row rather than creating a duplicate.
func (db *DB) FindDirectConversation(userA, userB int64) (*models.Conversation, error) {
	var c models.Conversation
	err := db.Get(&c, `
		SELECT c.* FROM conversations c
		WHERE c.kind = 'DIRECT'
		  AND EXISTS (SELECT 1 FROM members m WHERE m.conversation_id = c.id AND m.user_id = $1)
		  AND EXISTS (SELECT 1 FROM members m WHERE m.conversation_id = c.id AND m.user_id = $2)
		LIMIT 1`, userA, userB)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no direct conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	return &c, nil
}

// CreateDirectConversation creates (or, if one already exists, returns) the
// DIRECT conversation between creatorID and otherID. Both members get role
// MEMBER: DIRECT conversations have no owner concept.
//
// Two concurrent creates for the same pair would otherwise both pass the
// initial existence check and race to insert a duplicate row, since the
// schema has no uniqueness constraint on an unordered member pair. A
// transaction-scoped advisory lock keyed on the sorted pair serializes the
// second caller behind the first, which re-checks under the lock and finds
// the row the first caller just committed.
func (db *DB) CreateDirectConversation(creatorID, otherID int64) (*models.Conversation, error) {
	if existing, err := db.FindDirectConversation(creatorID, otherID); err == nil {
		return existing, nil
	}

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

	lo, hi := creatorID, otherID
	if lo > hi {
		lo, hi = hi, lo
	}
	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fmt.Sprintf("direct:%d:%d", lo, hi)); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("acquire direct-conversation lock: %w", err)
	}

	var existing models.Conversation
	err = tx.Get(&existing, `
		SELECT c.* FROM conversations c
		WHERE c.kind = 'DIRECT'
		  AND EXISTS (SELECT 1 FROM members m WHERE m.conversation_id = c.id AND m.user_id = $1)
		  AND EXISTS (SELECT 1 FROM members m WHERE m.conversation_id = c.id AND m.user_id = $2)
		LIMIT 1`, creatorID, otherID)
	if err == nil {
		tx.Rollback()
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		tx.Rollback()
		return nil, fmt.Errorf("find direct conversation under lock: %w", err)
	}

	var c models.Conversation
	if err := tx.Get(&c, `
		INSERT INTO conversations (kind, created_by_id)
		VALUES ('DIRECT', $1)
		RETURNING *`, creatorID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert direct conversation: %w", err)
	}

	for _, uid := range []int64{creatorID, otherID} {
		if _, err := tx.Exec(`
			INSERT INTO members (conversation_id, user_id, role) VALUES ($1, $2, 'MEMBER')`,
			c.ID, uid); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("insert direct member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit direct conversation: %w", err)
	}
	return &c, nil
}

// CreateGroupConversation creates a GROUP conversation owned by creatorID with
// memberIDs as additional MEMBERs, plus a SYSTEM message announcing creation,
// all as one transaction.
func (db *DB) CreateGroupConversation(creatorID int64, groupName string, memberIDs []int64) (*models.Conversation, error) {
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

	var c models.Conversation
	if err := tx.Get(&c, `
		INSERT INTO conversations (kind, group_name, created_by_id)
		VALUES ('GROUP', $1, $2)
		RETURNING *`, groupName, creatorID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert group conversation: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO members (conversation_id, user_id, role) VALUES ($1, $2, 'OWNER')`,
		c.ID, creatorID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert owner member: %w", err)
	}

	for _, uid := range memberIDs {
		if uid == creatorID {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO members (conversation_id, user_id, role) VALUES ($1, $2, 'MEMBER')
			ON CONFLICT DO NOTHING`, c.ID, uid); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("insert group member: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, sender_id, type, content, status)
		VALUES ($1, NULL, 'SYSTEM', 'Group created', 'SENT')`, c.ID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert system message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit group conversation: %w", err)
	}
	return &c, nil
}

// CreateAIChatConversation creates an AI_CHAT conversation with a single human
// member (the creator) and a default "New Chat" title used to trigger
// auto-titling on the first message.
func (db *DB) CreateAIChatConversation(creatorID int64, systemPrompt string) (*models.Conversation, error) {
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

	title := "New Chat"
	var sp *string
	if systemPrompt != "" {
		sp = &systemPrompt
	}

	var c models.Conversation
	if err := tx.Get(&c, `
		INSERT INTO conversations (kind, title, system_prompt, created_by_id)
		VALUES ('AI_CHAT', $1, $2, $3)
		RETURNING *`, title, sp, creatorID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert ai chat conversation: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO members (conversation_id, user_id, role) VALUES ($1, $2, 'OWNER')`,
		c.ID, creatorID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert ai chat member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ai chat conversation: %w", err)
	}
	return &c, nil
}

// UpdateConversation patches the mutable metadata fields of a conversation.
func (db *DB) UpdateConversation(id int64, req models.UpdateConversationRequest) (*models.Conversation, error) {
	var c models.Conversation
	err := db.Get(&c, `
		UPDATE conversations SET
			title         = COALESCE($2, title),
			group_name    = COALESCE($3, group_name),
			description   = COALESCE($4, description),
			system_prompt = COALESCE($5, system_prompt),
			updated_at    = now()
		WHERE id = $1
		RETURNING *`, id, req.Title, req.GroupName, req.Description, req.SystemPrompt)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return &c, nil
}

// TouchConversation advances updated_at; called whenever a new message lands.
func (db *DB) TouchConversation(id int64) error {
	_, err := db.Exec(`UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// SetConversationTitle is used for auto-titling an AI_CHAT from its first message.
func (db *DB) SetConversationTitle(id int64, title string) error {
	_, err := db.Exec(`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation; ON DELETE CASCADE removes its
// members, messages (and their attachments/reactions), and calls.
func (db *DB) DeleteConversation(id int64) error {
	_, err := db.Exec(`DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ListConversationsForUser returns every conversation userID is a member of,
// most recently updated first.
func (db *DB) ListConversationsForUser(userID int64) ([]models.Conversation, error) {
	var convos []models.Conversation
	err := db.Select(&convos, `
		SELECT c.* FROM conversations c
		JOIN members m ON m.conversation_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convos, nil
}

// ConversationUnreadHint implements the approximate unread indicator: true iff
// the latest message is newer than the member's lastReadAt and not authored by
// the reader themself (Open Question decision, see DESIGN.md).
func (db *DB) ConversationUnreadHint(conversationID, userID int64) (bool, error) {
	var hint bool
	err := db.Get(&hint, `
		SELECT EXISTS (
			SELECT 1 FROM (
				SELECT sender_id, created_at FROM messages
				WHERE conversation_id = $1 AND is_deleted = FALSE
				ORDER BY created_at DESC, id DESC
				LIMIT 1
			) msg
			JOIN members m ON m.conversation_id = $1 AND m.user_id = $2
			WHERE (msg.sender_id IS NULL OR msg.sender_id != $2)
			  AND (m.last_read_at IS NULL OR msg.created_at > m.last_read_at)
		)`, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("unread hint: %w", err)
	}
	return hint, nil
}
