package monitor

import (
	"time"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
)

// Snapshot is a point-in-time view of the engine state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Reading     logic.Reading
	HasReading  bool
	Status      logic.Status
	Thresholds  logic.Thresholds
	History     []logic.HistoryEntry // newest first
	Logs        []logic.LogEntry     // newest first
	Connected   bool
	LastUpdate  time.Time
	LastEntryID int64
	Running     bool
}

// UpdateKind says which transition produced an Update.
type UpdateKind string

const (
	KindReading    UpdateKind = "reading"
	KindThresholds UpdateKind = "thresholds"
	KindConnection UpdateKind = "connection"
	KindAlert      UpdateKind = "alert"
)

// Update is pushed to subscribers. It carries the small part of the state
// that changes on every transition; History is only available via Snapshot.
type Update struct {
	Kind       UpdateKind
	Time       time.Time
	Reading    logic.Reading
	HasReading bool
	Status     logic.Status
	Thresholds logic.Thresholds
	Connected  bool
	LastUpdate time.Time
	// Logs holds the entries added by this transition, in creation order.
	Logs []logic.LogEntry
	// Alert is set for KindAlert.
	Alert *alert.Alert
}
