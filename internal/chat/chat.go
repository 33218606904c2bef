// Package chat talks to the ColdWatch AI assistant. Client and Conversation
// are the caller side; Relay is the server side that forwards a transcript,
// with the current sensor context, to an OpenAI-compatible gateway and
// streams the answer back as server-sent events.
package chat

import (
	"strconv"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
)

// Roles used in a transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Greeting seeds every new conversation.
const Greeting = "Hello! I'm ColdWatch AI, your cold storage monitoring assistant. " +
	"I can help you understand your sensor readings, troubleshoot issues, and provide " +
	"best practices for cold storage management. How can I help you today?"

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SensorData is the sensor context sent along with a transcript.
type SensorData struct {
	Temperature       float64          `json:"temperature"`
	Humidity          float64          `json:"humidity"`
	Gas               int              `json:"gas"`
	TemperatureStatus logic.Level      `json:"temperatureStatus"`
	HumidityStatus    logic.Level      `json:"humidityStatus"`
	GasStatus         logic.Level      `json:"gasStatus"`
	LastUpdate        string           `json:"lastUpdate"`
	Thresholds        logic.Thresholds `json:"thresholds"`
}

// NewSensorData builds the context for a reading.
func NewSensorData(r logic.Reading, s logic.Status, t logic.Thresholds, lastUpdate time.Time) *SensorData {
	return &SensorData{
		Temperature:       r.Temperature,
		Humidity:          r.Humidity,
		Gas:               r.Gas,
		TemperatureStatus: s.Temperature,
		HumidityStatus:    s.Humidity,
		GasStatus:         s.Gas,
		LastUpdate:        lastUpdate.Format("2006-01-02 15:04:05"),
		Thresholds:        t,
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
