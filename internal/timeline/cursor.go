package timeline

import (
	"sync"
	"time"
)

// Cursor is the watermark of the newest message materialized for a
// conversation. It only moves forward.
type Cursor struct {
	mu sync.RWMutex
	at time.Time
}

// NewCursor creates a cursor starting at start.
func NewCursor(start time.Time) *Cursor {
	return &Cursor{at: start}
}

// Advance moves the cursor to candidate if candidate is strictly after the
// current value. Reports whether the cursor moved.
func (c *Cursor) Advance(candidate time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !candidate.After(c.at) {
		return false
	}
	c.at = candidate
	return true
}

// Value returns the current watermark.
func (c *Cursor) Value() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.at
}
