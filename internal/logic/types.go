// Package logic contains the pure domain model for cold-storage monitoring:
// readings, thresholds, levels and the bounded history/log buffers.
// This package has NO external dependencies (no HTTP, MQTT, OS, or clock).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Channel identifies one monitored measurement.
type Channel string

const (
	ChannelTemperature Channel = "temperature"
	ChannelHumidity    Channel = "humidity"
	ChannelGas         Channel = "gas"
)

// Channels lists every channel in display order.
var Channels = []Channel{ChannelTemperature, ChannelHumidity, ChannelGas}

// DisplayName returns the capitalised name used in alerts.
func (c Channel) DisplayName() string {
	switch c {
	case ChannelTemperature:
		return "Temperature"
	case ChannelHumidity:
		return "Humidity"
	case ChannelGas:
		return "Gas"
	}
	return string(c)
}

// Level is the ordinal status of a channel or of the whole system.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Rank orders levels: normal < warning < critical.
func (l Level) Rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	}
	return 0
}

// Reading is one sample from the telemetry source.
// EntryID is assigned by the source and is the sole dedup key.
type Reading struct {
	Temperature float64
	Humidity    float64
	Gas         int
	Timestamp   time.Time
	EntryID     int64
}

// Value returns the reading's value for a channel.
func (r Reading) Value(c Channel) float64 {
	switch c {
	case ChannelTemperature:
		return r.Temperature
	case ChannelHumidity:
		return r.Humidity
	case ChannelGas:
		return float64(r.Gas)
	}
	return 0
}

// Limit holds the warning and critical thresholds for one channel.
// Warning <= Critical is expected but not enforced.
type Limit struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Thresholds holds the limits for every channel.
type Thresholds struct {
	Temperature Limit `json:"temperature"`
	Humidity    Limit `json:"humidity"`
	Gas         Limit `json:"gas"`
}

// DefaultThresholds are used until the user saves their own.
var DefaultThresholds = Thresholds{
	Temperature: Limit{Warning: 8, Critical: 12},
	Humidity:    Limit{Warning: 70, Critical: 85},
	Gas:         Limit{Warning: 300, Critical: 500},
}

// For returns the limit for a channel.
func (t Thresholds) For(c Channel) Limit {
	switch c {
	case ChannelTemperature:
		return t.Temperature
	case ChannelHumidity:
		return t.Humidity
	case ChannelGas:
		return t.Gas
	}
	return Limit{}
}

// Status is derived from a reading and thresholds. Never persisted.
type Status struct {
	Temperature Level `json:"temperature"`
	Humidity    Level `json:"humidity"`
	Gas         Level `json:"gas"`
	Overall     Level `json:"overall"`
}

// For returns the level of a channel.
func (s Status) For(c Channel) Level {
	switch c {
	case ChannelTemperature:
		return s.Temperature
	case ChannelHumidity:
		return s.Humidity
	case ChannelGas:
		return s.Gas
	}
	return LevelNormal
}

// Critical returns the channels at critical level, in display order.
func (s Status) Critical() []Channel {
	var out []Channel
	for _, c := range Channels {
		if s.For(c) == LevelCritical {
			out = append(out, c)
		}
	}
	return out
}

// LogEntry records a threshold breach observed on a poll.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sensor    Channel   `json:"sensor"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Status    Level     `json:"status"`
	Message   string    `json:"message"`
}

// HistoryEntry is one charted point. ID is the reading's entry id.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Gas         int       `json:"gas"`
}

// HistoryEntryFrom converts a reading into a history point.
func HistoryEntryFrom(r Reading) HistoryEntry {
	return HistoryEntry{
		ID:          r.EntryID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Gas:         r.Gas,
	}
}
