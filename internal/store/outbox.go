package store

import "time"

// QueueOutbox records a send attempt before it is submitted.
func (db *DB) QueueOutbox(clientMsgID, conversationID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		clientMsgID, conversationID, body, OutboxQueued, now, now)
	return err
}

// MarkOutboxSent marks an attempt accepted. serverMsgID may be empty when
// the backend did not return one.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		OutboxSent, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed marks an attempt failed with its error.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		OutboxFailed, errMsg, now, clientMsgID)
	return err
}

// ListOutbox returns the send log of a conversation, oldest first.
func (db *DB) ListOutbox(conversationID string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, body, status, error_message, server_msg_id, created_at
		FROM outbox WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
