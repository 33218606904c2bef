package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Gateway defaults.
const (
	DefaultGatewayURL = "https://ai.gateway.lovable.dev/v1/chat/completions"
	DefaultModel      = "google/gemini-3-flash-preview"
)

// Error messages returned to relay callers.
const (
	msgRateLimited      = "Rate limit exceeded. Please try again later."
	msgCreditsExhausted = "AI credits exhausted. Please add credits to continue."
	msgUnavailable      = "AI service temporarily unavailable"
)

// SystemPrompt describes the assistant to the model.
const SystemPrompt = `You are ColdWatch AI, an expert assistant for cold storage monitoring systems. You have deep knowledge about:

## Cold Storage Monitoring
- Temperature monitoring with DHT11 sensors (optimal range: -2°C to 8°C for most cold storage)
- Humidity monitoring (typically 85-95% RH for cold storage)
- Gas detection with MQ2 sensors (detects LPG, propane, hydrogen, methane, smoke)
- ThingSpeak cloud integration for data logging

## Sensor Knowledge
**DHT11 Sensor:**
- Temperature range: 0-50°C with ±2°C accuracy
- Humidity range: 20-90% RH with ±5% accuracy
- Sampling rate: 1Hz (once per second)

**MQ2 Gas Sensor:**
- Detects: LPG, propane, hydrogen, methane, alcohol, smoke
- Range: 200-10000 ppm
- Warm-up time: 20 seconds minimum

## Cold Storage Best Practices
- Maintain consistent temperatures to prevent spoilage
- Monitor humidity to prevent frost buildup and dehydration
- Gas detection for safety (refrigerant leaks, fires)
- Regular calibration of sensors
- Quick response to threshold breaches

## Alert Thresholds
- Temperature warnings: ±2°C from setpoint, critical: ±5°C
- Humidity warnings: ±5% from setpoint, critical: ±10%
- Gas detection: Any significant reading requires investigation

When users provide current sensor data, analyze it and provide actionable insights. Be helpful, concise, and focus on practical advice for maintaining optimal cold storage conditions.`

// BuildSystemPrompt returns SystemPrompt, followed by the current readings
// and thresholds when sensor is non-nil.
func BuildSystemPrompt(sensor *SensorData) string {
	if sensor == nil {
		return SystemPrompt
	}
	var b strings.Builder
	b.WriteString(SystemPrompt)
	b.WriteString("\n\n## Current Sensor Readings\n")
	fmt.Fprintf(&b, "- Temperature: %s°C (Status: %s)\n", num(sensor.Temperature), sensor.TemperatureStatus)
	fmt.Fprintf(&b, "- Humidity: %s%% (Status: %s)\n", num(sensor.Humidity), sensor.HumidityStatus)
	fmt.Fprintf(&b, "- Gas Level: %d PPM (Status: %s)\n", sensor.Gas, sensor.GasStatus)
	fmt.Fprintf(&b, "- Last Updated: %s\n", sensor.LastUpdate)
	b.WriteString("\n## Current Thresholds\n")
	t := sensor.Thresholds
	fmt.Fprintf(&b, "Temperature: Warning at %s°C, Critical at %s°C\n", num(t.Temperature.Warning), num(t.Temperature.Critical))
	fmt.Fprintf(&b, "Humidity: Warning at %s%%, Critical at %s%%\n", num(t.Humidity.Warning), num(t.Humidity.Critical))
	fmt.Fprintf(&b, "Gas: Warning at %s PPM, Critical at %s PPM", num(t.Gas.Warning), num(t.Gas.Critical))
	return b.String()
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	GatewayURL string
	APIKey     string
	Model      string
	// Timeout bounds the wait for the gateway's response headers.
	Timeout time.Duration
}

// Relay is an http.Handler that forwards chat requests to the gateway and
// streams the event-stream body back unchanged.
type Relay struct {
	cfg  RelayConfig
	http *http.Client
}

// NewRelay creates a Relay.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.Timeout
	return &Relay{cfg: cfg, http: &http.Client{Transport: tr}}
}

type gatewayRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ServeHTTP handles one chat request.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("chat: bad request: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("decode request: %v", err))
		return
	}
	if rl.cfg.APIKey == "" {
		writeError(w, http.StatusInternalServerError, "gateway API key is not configured")
		return
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: BuildSystemPrompt(req.SensorData)})
	messages = append(messages, req.Messages...)
	body, err := json.Marshal(gatewayRequest{Model: rl.cfg.Model, Messages: messages, Stream: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	greq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, rl.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	greq.Header.Set("Authorization", "Bearer "+rl.cfg.APIKey)
	greq.Header.Set("Content-Type", "application/json")

	resp, err := rl.http.Do(greq)
	if err != nil {
		log.Printf("chat: gateway request failed: %v", err)
		writeError(w, http.StatusInternalServerError, msgUnavailable)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		writeError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	case resp.StatusCode == http.StatusPaymentRequired:
		writeError(w, http.StatusPaymentRequired, msgCreditsExhausted)
		return
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		log.Printf("chat: gateway error %d: %s", resp.StatusCode, text)
		writeError(w, http.StatusInternalServerError, msgUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	streamBody(w, resp.Body)
}

// streamBody copies src to w, flushing after every chunk.
func streamBody(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("chat: stream interrupted: %v", err)
			}
			return
		}
	}
}
