package sync

import (
	"fmt"
	gosync "sync"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/timeline"
	"go.uber.org/zap"
)

// Journal writes what a timeline materialized to the store. Each Commit
// stores the messages appended since the previous successful Commit, the
// delivery states that moved and the cursor checkpoint in one transaction,
// so the checkpoint never passes a message that is not on disk. A failed
// Commit leaves everything pending for the next one.
type Journal struct {
	db             *store.DB
	reconciler     *Reconciler
	timeline       *timeline.Timeline
	conversationID string
	logger         *zap.Logger

	mu     gosync.Mutex
	stored int
	dirty  []string
}

// NewJournal creates a journal for tl.
func NewJournal(db *store.DB, tl *timeline.Timeline, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		db:             db,
		reconciler:     NewReconciler(db, logger),
		timeline:       tl,
		conversationID: tl.ConversationID(),
		logger:         logger,
	}
}

// MarkStored records that the whole timeline is already persisted, as
// after a hydrate.
func (j *Journal) MarkStored() {
	j.mu.Lock()
	j.stored = j.timeline.Len()
	j.mu.Unlock()
}

// StatusChanged queues the current delivery state of id for the next Commit.
func (j *Journal) StatusChanged(id string) {
	j.mu.Lock()
	j.dirty = append(j.dirty, id)
	j.mu.Unlock()
}

// Pending returns how many appended messages are not stored yet.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeline.Len() - j.stored
}

// Commit persists everything pending.
func (j *Journal) Commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// The cursor is read before the messages: every message that moved it
	// was appended first, so the snapshot below covers it.
	cursor := j.timeline.Cursor().Value()
	tail := j.timeline.Since(j.stored)

	batch := &store.Batch{ConversationID: j.conversationID}
	for i := range tail {
		batch.Messages = append(batch.Messages, store.FromModel(tail[i]))
	}
	seen := make(map[string]bool, len(j.dirty))
	for _, id := range j.dirty {
		if seen[id] {
			continue
		}
		seen[id] = true
		if m, ok := j.timeline.Get(id); ok {
			batch.States = append(batch.States, store.StateChange{MsgID: id, State: string(m.DeliveryState)})
		}
	}
	if !cursor.IsZero() {
		current, ok, err := j.reconciler.LoadCursor(j.conversationID)
		if err != nil {
			return err
		}
		if !ok || cursor.After(current) {
			batch.CheckpointKey = CursorKey(j.conversationID)
			batch.CheckpointValue = model.FormatTimestamp(cursor)
		}
	}

	if err := j.db.IngestBatch(batch); err != nil {
		return fmt.Errorf("persist %d messages: %w", len(tail), err)
	}
	j.stored += len(tail)
	j.dirty = j.dirty[:0]
	return nil
}
