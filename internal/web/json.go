package web

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/sweeney/coldwatch/internal/chat"
	"github.com/sweeney/coldwatch/internal/logic"
)

// Messages returned by the threshold endpoints.
const (
	msgSynced    = "Thresholds synced to ESP32 via ThingSpeak"
	msgNotSynced = "Local save successful. ESP32 sync will retry in 15s (rate limit)"
	msgReset     = "Thresholds reset to defaults"
)

// ThresholdsResponse is the body returned after thresholds change.
type ThresholdsResponse struct {
	Thresholds logic.Thresholds `json:"thresholds"`
	Synced     bool             `json:"synced"`
	Message    string           `json:"message"`
}

// LoginRequest is the body of /api/login and /api/signup.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ChatRequest is the body of POST /api/chat. The transcript is kept
// server-side per session and sensor context is added to every send.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatTranscript is the body of GET /api/chat.
type ChatTranscript struct {
	Messages []chat.Message `json:"messages"`
}

// streamError ends a stream that failed after it started.
type streamError struct {
	Error string `json:"error"`
}

// streamChunk mirrors the gateway's event-stream chunk so browsers decode
// both the same way.
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("web: marshal response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
