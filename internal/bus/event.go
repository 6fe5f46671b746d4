package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the first dot is the namespace subscribers filter on.
const (
	TimelineAppended      = "timeline.appended"
	TimelineStatusChanged = "timeline.status_changed"
	TimelineRestored      = "timeline.restored"

	ConnStateChanged       = "conn.state_changed"
	ConnReconnectScheduled = "conn.reconnect_scheduled"
	ConnFailed             = "conn.failed"

	SendAccepted     = "send.accepted"
	SendAcknowledged = "send.acknowledged"
	SendFailed       = "send.failed"

	SyncPolled    = "sync.polled"
	SyncDuplicate = "sync.duplicate"
	SyncFatal     = "sync.fatal"
)
