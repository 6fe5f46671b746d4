package sync

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Reconciler manages the persisted cursor checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// CursorKey is the sync_state key holding a conversation's cursor.
func CursorKey(conversationID string) string {
	return "cursor:" + conversationID
}

// SaveCursor persists at unless the stored checkpoint is already at or
// past it. Reports whether the checkpoint moved.
func (r *Reconciler) SaveCursor(conversationID string, at time.Time) (bool, error) {
	if at.IsZero() {
		return false, nil
	}
	current, ok, err := r.LoadCursor(conversationID)
	if err != nil {
		return false, err
	}
	if ok && !at.After(current) {
		return false, nil
	}
	if err := r.db.SetCheckpoint(CursorKey(conversationID), model.FormatTimestamp(at)); err != nil {
		return false, fmt.Errorf("save cursor: %w", err)
	}
	return true, nil
}

// LoadCursor returns the persisted cursor, if any.
func (r *Reconciler) LoadCursor(conversationID string) (time.Time, bool, error) {
	raw, ok, err := r.db.Checkpoint(CursorKey(conversationID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := model.ParseTimestamp(raw)
	if err != nil {
		r.logger.Warn("ignoring corrupt cursor checkpoint", zap.String("value", raw), zap.Error(err))
		return time.Time{}, false, nil
	}
	return at, true, nil
}
