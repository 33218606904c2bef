package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/monitor"
)

func criticalUpdate() monitor.Update {
	r := logic.Reading{Temperature: 15, Humidity: 50, Gas: 100, EntryID: 42,
		Timestamp: time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)}
	return monitor.Update{
		Kind:       monitor.KindReading,
		Reading:    r,
		HasReading: true,
		Status:     logic.Evaluate(r, logic.DefaultThresholds),
		Thresholds: logic.DefaultThresholds,
		Connected:  true,
		LastUpdate: time.Date(2026, 1, 1, 0, 10, 5, 0, time.UTC),
		Logs:       []logic.LogEntry{{ID: "a", Sensor: logic.ChannelTemperature}},
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Channel: "123", PollMs: 15000, HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 15000 {
		t.Errorf("Config.PollMs: got %d, want 15000", snap.Config.PollMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Thresholds != logic.DefaultThresholds {
		t.Error("expected default thresholds initially")
	}
	if snap.Running || snap.Connected || snap.HasReading {
		t.Error("expected idle tracker initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(criticalUpdate())

	snap := tr.Snapshot()
	if !snap.HasReading || snap.Reading.EntryID != 42 {
		t.Errorf("Reading: got %+v", snap.Reading)
	}
	if snap.Status.Overall != logic.LevelCritical {
		t.Errorf("Overall: got %q, want critical", snap.Status.Overall)
	}
	if !snap.Connected {
		t.Error("expected Connected=true")
	}
	if snap.Counts.Readings != 1 || snap.Counts.Breaches != 1 {
		t.Errorf("Counts: got %+v", snap.Counts)
	}
}

func TestUpdateAlertCounts(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	u := criticalUpdate()
	u.Kind = monitor.KindAlert
	u.Logs = nil
	u.Time = time.Date(2026, 1, 1, 0, 10, 6, 0, time.UTC)
	u.Alert = &alert.Alert{CriticalSensors: []string{"Temperature"}}

	tr.Update(u)

	snap := tr.Snapshot()
	if snap.Counts.Alerts != 1 || snap.Counts.Readings != 0 {
		t.Errorf("Counts: got %+v", snap.Counts)
	}
	if !snap.LastAlert.Equal(u.Time) {
		t.Errorf("LastAlert: got %v, want %v", snap.LastAlert, u.Time)
	}
}

func TestSetRunningFalseDisconnects(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetRunning(true)
	tr.Update(criticalUpdate())

	tr.SetRunning(false)
	snap := tr.Snapshot()
	if snap.Running || snap.Connected {
		t.Errorf("got running=%v connected=%v, want both false", snap.Running, snap.Connected)
	}
	if !snap.HasReading {
		t.Error("last reading should be kept")
	}
}

func TestHostStateSetters(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	if snap := tr.Snapshot(); snap.MQTTConnected || snap.Network != nil || snap.Sessions != 0 {
		t.Fatalf("fresh tracker: got mqtt=%v network=%v sessions=%d", snap.MQTTConnected, snap.Network, snap.Sessions)
	}

	tr.SetMQTTConnected(true)
	tr.SetSessions(3)
	tr.SetNetwork(&NetworkInfo{Type: "ethernet", IP: "10.0.0.7", Status: "up"})

	snap := tr.Snapshot()
	if !snap.MQTTConnected {
		t.Error("broker link should be reported up")
	}
	if snap.Sessions != 3 {
		t.Errorf("Sessions: got %d, want 3", snap.Sessions)
	}
	if snap.Network == nil || snap.Network.IP != "10.0.0.7" {
		t.Errorf("Network: got %+v", snap.Network)
	}

	tr.SetSessions(0)
	tr.SetMQTTConnected(false)
	if snap := tr.Snapshot(); snap.MQTTConnected || snap.Sessions != 0 {
		t.Errorf("after reset: got mqtt=%v sessions=%d", snap.MQTTConnected, snap.Sessions)
	}
}

func TestUptimeTruncatesToSeconds(t *testing.T) {
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: base, Now: base.Add(2*time.Hour + 1500*time.Millisecond)}

	if got := snap.Uptime(); got != 2*time.Hour+1500*time.Millisecond {
		t.Errorf("Uptime: got %v", got)
	}
	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Status.UptimeSeconds != 7201 {
		t.Errorf("uptime_seconds: got %d, want 7201", parsed.Status.UptimeSeconds)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(criticalUpdate())

	snap1 := tr.Snapshot()

	u := criticalUpdate()
	u.Reading.EntryID = 43
	tr.Update(u)

	if snap1.Reading.EntryID != 42 {
		t.Error("snapshot should be a copy; Reading was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{Channel: "123", PollMs: 15000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"})
	tr.SetRunning(true)
	tr.SetMQTTConnected(true)
	tr.Update(criticalUpdate())
	snap := tr.Snapshot()
	snap.Now = start.Add(15 * time.Minute)

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Overall != "critical" {
		t.Errorf("Overall: got %q, want critical", parsed.Status.Overall)
	}
	if parsed.Status.Reading == nil || parsed.Status.Reading.Temperature != 15 {
		t.Errorf("Reading: got %+v", parsed.Status.Reading)
	}
	if parsed.Status.Levels.Temperature != logic.LevelCritical {
		t.Errorf("Levels.Temperature: got %q", parsed.Status.Levels.Temperature)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.LastUpdate != "2026-01-01T00:10:05Z" {
		t.Errorf("LastUpdate: got %q", parsed.Status.LastUpdate)
	}
	if parsed.Status.Config.Channel != "123" {
		t.Errorf("Config.Channel: got %q", parsed.Status.Config.Channel)
	}
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatJSONNoReading(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if status["overall"] != "UNKNOWN" {
		t.Errorf("overall: got %v, want UNKNOWN", status["overall"])
	}
	if _, exists := status["reading"]; exists {
		t.Error("reading should be omitted when there is none")
	}
	if _, exists := status["last_update"]; exists {
		t.Error("last_update should be omitted when zero")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 1800 {
		t.Errorf("UptimeSeconds: got %d, want 1800", parsed.Status.UptimeSeconds)
	}
}

func TestStatusEventFields(t *testing.T) {
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: base,
		Now:       base.Add(time.Minute),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.4.20", Status: "connected", SSID: "ColdRoom"},
	}

	cases := []struct {
		event, reason string
		wantReason    bool
	}{
		{"STARTUP", "", false},
		{"SHUTDOWN", "SIGINT", true},
	}
	for _, c := range cases {
		var doc map[string]map[string]any
		if err := json.Unmarshal(FormatStatusEvent(snap, c.event, c.reason), &doc); err != nil {
			t.Fatalf("%s: unmarshal: %v", c.event, err)
		}
		body := doc["status"]
		if body["event"] != c.event {
			t.Errorf("%s: event got %v", c.event, body["event"])
		}
		if _, ok := body["reason"]; ok != c.wantReason {
			t.Errorf("%s: reason present=%v, want %v", c.event, ok, c.wantReason)
		}
		nw, ok := body["network"].(map[string]any)
		if !ok || nw["ssid"] != "ColdRoom" {
			t.Errorf("%s: network got %v", c.event, body["network"])
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(criticalUpdate())
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetSessions(i)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
