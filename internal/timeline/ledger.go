package timeline

import "sync"

// Ledger remembers which message ids have been materialized.
type Ledger interface {
	Has(id string) bool
	// Record marks id as materialized. Recording twice is a no-op.
	Record(id string)
}

// MemoryLedger is an unbounded in-memory Ledger. It lives as long as the
// conversation component that owns it.
type MemoryLedger struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{ids: make(map[string]struct{})}
}

func (l *MemoryLedger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

func (l *MemoryLedger) Record(id string) {
	l.mu.Lock()
	l.ids[id] = struct{}{}
	l.mu.Unlock()
}

// Len returns the number of recorded ids.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
