package store

import "time"

const upsertMessageSQL = `
	INSERT INTO messages (conversation_id, msg_id, direction, kind, body, media_ref, template_name, delivery_state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
		body = excluded.body,
		media_ref = excluded.media_ref,
		delivery_state = CASE WHEN excluded.delivery_state = '' THEN messages.delivery_state ELSE excluded.delivery_state END,
		updated_at = excluded.updated_at`

const updateDeliveryStateSQL = `
	UPDATE messages SET delivery_state = ?, updated_at = ?
	WHERE conversation_id = ? AND msg_id = ?`

// UpsertMessage inserts a message or refreshes its mutable fields. It is
// idempotent on (conversation_id, msg_id) and never changes seq.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(upsertMessageSQL,
		m.ConversationID, m.MsgID, m.Direction, m.Kind, m.Body, m.MediaRef, m.TemplateName, m.DeliveryState, m.CreatedAt, now)
	return err
}

// UpdateDeliveryState sets the delivery state of a stored message. It
// reports whether a row matched.
func (db *DB) UpdateDeliveryState(conversationID, msgID, state string) (bool, error) {
	res, err := db.Exec(updateDeliveryStateSQL, state, time.Now().UnixMilli(), conversationID, msgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns the conversation in the order messages were applied.
// limit <= 0 returns everything.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT seq, conversation_id, msg_id, direction, kind, body, media_ref, template_name, delivery_state, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ConversationID, &m.MsgID, &m.Direction, &m.Kind, &m.Body, &m.MediaRef, &m.TemplateName, &m.DeliveryState, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of stored messages for a conversation.
func (db *DB) MessageCount(conversationID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}
