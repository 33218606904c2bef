// Package mqtt publishes readings, critical alerts and lifecycle events to
// an MQTT broker, with an abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
)

// TopicReadings receives one message per new reading.
const TopicReadings = "coldwatch/sensor/readings"

// TopicAlerts receives one message per dispatched critical alert.
const TopicAlerts = "coldwatch/sensor/alerts"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "coldwatch/sensor/system"

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishReading sends a reading and its evaluated status.
	// Returns error if publishing fails (should not crash the process).
	PublishReading(r logic.Reading, s logic.Status) error

	// PublishAlert sends a critical alert.
	PublishAlert(a alert.Alert) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ReadingPayload is the message published on TopicReadings.
type ReadingPayload struct {
	Reading ReadingInner `json:"reading"`
}

// ReadingInner contains the reading details.
type ReadingInner struct {
	Timestamp   string       `json:"timestamp"`
	EntryID     int64        `json:"entry_id"`
	Temperature float64      `json:"temperature"`
	Humidity    float64      `json:"humidity"`
	Gas         int          `json:"gas"`
	Status      logic.Status `json:"status"`
}

// FormatReadingPayload creates the JSON payload for a reading.
func FormatReadingPayload(r logic.Reading, s logic.Status) ([]byte, error) {
	return json.Marshal(ReadingPayload{
		Reading: ReadingInner{
			Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
			EntryID:     r.EntryID,
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Gas:         r.Gas,
			Status:      s,
		},
	})
}

// AlertPayload is the message published on TopicAlerts.
type AlertPayload struct {
	Alert AlertInner `json:"alert"`
}

// AlertInner contains the alert details.
type AlertInner struct {
	Timestamp       string   `json:"timestamp"`
	CriticalSensors []string `json:"critical_sensors"`
	Temperature     float64  `json:"temperature"`
	Humidity        float64  `json:"humidity"`
	Gas             int      `json:"gas"`
}

// FormatAlertPayload creates the JSON payload for an alert.
func FormatAlertPayload(a alert.Alert) ([]byte, error) {
	return json.Marshal(AlertPayload{
		Alert: AlertInner{
			Timestamp:       a.Timestamp.UTC().Format(time.RFC3339),
			CriticalSensors: a.CriticalSensors,
			Temperature:     a.Temperature,
			Humidity:        a.Humidity,
			Gas:             a.Gas,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Notifier adapts a Publisher to alert.Notifier so alerts can be fanned out
// to the broker alongside the relay.
type Notifier struct {
	Publisher Publisher
}

// Notify publishes a on TopicAlerts.
func (n Notifier) Notify(ctx context.Context, a alert.Alert) error {
	if err := n.Publisher.PublishAlert(a); err != nil {
		return fmt.Errorf("mqtt alert: %w", err)
	}
	return nil
}
