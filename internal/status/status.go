// Package status provides a thread-safe status tracker for the coldwatch daemon.
// It is fed by engine updates and read by HTTP handlers, MQTT system events
// and the alarm output.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/monitor"
)

// NetworkInfo contains network state as reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Channel      string
	PollMs       int64
	HistorySeed  int
	Broker       string
	HTTPAddr     string
	StoreBackend string
}

// Counts tallies engine activity since the daemon started.
type Counts struct {
	Readings int
	Breaches int
	Alerts   int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Running       bool
	Connected     bool
	HasReading    bool
	Reading       logic.Reading
	Status        logic.Status
	Thresholds    logic.Thresholds
	LastUpdate    time.Time
	LastAlert     time.Time
	Counts        Counts
	Sessions      int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Config:     cfg,
			Thresholds: logic.DefaultThresholds,
		},
	}
}

// Update folds an engine update into the tracked state.
func (t *Tracker) Update(u monitor.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Connected = u.Connected
	t.snap.HasReading = u.HasReading
	t.snap.Reading = u.Reading
	t.snap.Status = u.Status
	t.snap.Thresholds = u.Thresholds
	t.snap.LastUpdate = u.LastUpdate
	switch u.Kind {
	case monitor.KindReading:
		t.snap.Counts.Readings++
		t.snap.Counts.Breaches += len(u.Logs)
	case monitor.KindAlert:
		t.snap.Counts.Alerts++
		t.snap.LastAlert = u.Time
	}
}

// SetRunning records whether an engine is polling.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.snap.Running = running
	if !running {
		t.snap.Connected = false
	}
	t.mu.Unlock()
}

// SetSessions sets the number of signed-in sessions.
func (t *Tracker) SetSessions(n int) {
	t.mu.Lock()
	t.snap.Sessions = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
