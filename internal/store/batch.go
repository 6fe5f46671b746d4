package store

import (
	"fmt"
	"time"
)

// StateChange moves a stored message to a new delivery state.
type StateChange struct {
	MsgID string
	State string
}

// Batch is one intake step of a conversation, written atomically.
type Batch struct {
	ConversationID string
	Messages       []*Message
	States         []StateChange
	// CheckpointKey is written with CheckpointValue when both are set.
	CheckpointKey   string
	CheckpointValue string
}

// Empty reports whether the batch writes nothing.
func (b *Batch) Empty() bool {
	return len(b.Messages) == 0 && len(b.States) == 0 && b.CheckpointValue == ""
}

// IngestBatch upserts the messages in order, applies the state changes and
// saves the checkpoint in a single transaction.
func (db *DB) IngestBatch(b *Batch) error {
	if b.Empty() {
		return nil
	}
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range b.Messages {
		if _, err := tx.Exec(upsertMessageSQL,
			m.ConversationID, m.MsgID, m.Direction, m.Kind, m.Body, m.MediaRef, m.TemplateName, m.DeliveryState, m.CreatedAt, now); err != nil {
			return fmt.Errorf("upsert message %s in batch: %w", m.MsgID, err)
		}
	}
	for _, sc := range b.States {
		if _, err := tx.Exec(updateDeliveryStateSQL, sc.State, now, b.ConversationID, sc.MsgID); err != nil {
			return fmt.Errorf("update delivery state %s in batch: %w", sc.MsgID, err)
		}
	}
	if b.CheckpointKey != "" && b.CheckpointValue != "" {
		if _, err := tx.Exec(setCheckpointSQL, b.CheckpointKey, b.CheckpointValue, now); err != nil {
			return fmt.Errorf("save checkpoint in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
