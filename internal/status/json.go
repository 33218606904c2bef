package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Running       bool             `json:"running"`
	Connected     bool             `json:"connected"`
	Overall       string           `json:"overall"`
	Reading       *ReadingJSON     `json:"reading,omitempty"`
	Levels        logic.Status     `json:"levels"`
	Thresholds    logic.Thresholds `json:"thresholds"`
	LastUpdate    string           `json:"last_update,omitempty"`
	LastAlert     string           `json:"last_alert,omitempty"`
	Sessions      int              `json:"sessions"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Counts        CountsJSON       `json:"counts"`
	Network       *NetworkJSON     `json:"network,omitempty"`
	Config        ConfigJSON       `json:"config"`
}

// ReadingJSON is the JSON representation of the current reading.
type ReadingJSON struct {
	EntryID     int64   `json:"entry_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Gas         int     `json:"gas"`
	Timestamp   string  `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counts.
type CountsJSON struct {
	Readings int `json:"readings"`
	Breaches int `json:"breaches"`
	Alerts   int `json:"alerts"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Channel      string `json:"channel"`
	PollMs       int64  `json:"poll_ms"`
	HistorySeed  int    `json:"history_seed"`
	Broker       string `json:"broker,omitempty"`
	HTTPAddr     string `json:"http_addr"`
	StoreBackend string `json:"store_backend"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	overall := string(snap.Status.Overall)
	if !snap.HasReading || overall == "" {
		overall = "UNKNOWN"
	}

	inner := StatusInner{
		Running:       snap.Running,
		Connected:     snap.Connected,
		Overall:       overall,
		Levels:        snap.Status,
		Thresholds:    snap.Thresholds,
		LastUpdate:    formatTime(snap.LastUpdate),
		LastAlert:     formatTime(snap.LastAlert),
		Sessions:      snap.Sessions,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Readings: snap.Counts.Readings,
			Breaches: snap.Counts.Breaches,
			Alerts:   snap.Counts.Alerts,
		},
		Config: ConfigJSON{
			Channel:      snap.Config.Channel,
			PollMs:       snap.Config.PollMs,
			HistorySeed:  snap.Config.HistorySeed,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			StoreBackend: snap.Config.StoreBackend,
		},
	}
	if snap.HasReading {
		inner.Reading = &ReadingJSON{
			EntryID:     snap.Reading.EntryID,
			Temperature: snap.Reading.Temperature,
			Humidity:    snap.Reading.Humidity,
			Gas:         snap.Reading.Gas,
			Timestamp:   formatTime(snap.Reading.Timestamp),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
