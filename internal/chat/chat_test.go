package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
)

func TestDecoderSingleDelta(t *testing.T) {
	var deltas []string
	d := &Decoder{OnDelta: func(s string) { deltas = append(deltas, s) }}

	d.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n"))

	if len(deltas) != 1 || deltas[0] != "Hi" {
		t.Errorf("deltas: got %q, want [Hi]", deltas)
	}
	if !d.Done() {
		t.Error("expected stream to be done")
	}
	if d.Text() != "Hi" {
		t.Errorf("text: got %q, want Hi", d.Text())
	}
}

func TestDecoderSplitChunks(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"Keep \"}}]}\r\n" +
		": keep-alive\n" +
		"event: ping\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"it cold\"}}]}\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n"

	var deltas []string
	d := &Decoder{OnDelta: func(s string) { deltas = append(deltas, s) }}
	for i := 0; i < len(stream); i += 7 {
		end := i + 7
		if end > len(stream) {
			end = len(stream)
		}
		d.Write([]byte(stream[i:end]))
	}

	if d.Text() != "Keep it cold" {
		t.Errorf("text: got %q", d.Text())
	}
	if len(deltas) != 2 {
		t.Errorf("deltas: got %q", deltas)
	}
}

func TestDecoderSkipsMalformedAndEmpty(t *testing.T) {
	d := &Decoder{}
	d.Write([]byte("data: {not json\n" +
		"data: {\"choices\":[]}\n" +
		"data: {\"choices\":[{\"delta\":{}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"partial"))

	if d.Text() != "ok" {
		t.Errorf("text: got %q, want ok", d.Text())
	}
	if d.Done() {
		t.Error("stream should not be done without the end marker")
	}
}

func TestClientSend(t *testing.T) {
	var got Request
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n")
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "anon-key", nil)
	sensor := NewSensorData(logic.Reading{Temperature: 4}, logic.Status{Temperature: logic.LevelNormal}, logic.DefaultThresholds, time.Now())
	var deltas []string
	reply, err := c.Send(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, sensor, func(s string) {
		deltas = append(deltas, s)
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "Hi" || len(deltas) != 1 {
		t.Errorf("reply %q deltas %q", reply, deltas)
	}
	if auth != "Bearer anon-key" {
		t.Errorf("Authorization: got %q", auth)
	}
	if len(got.Messages) != 1 || got.SensorData == nil || got.SensorData.Temperature != 4 {
		t.Errorf("request body: %+v", got)
	}
}

func TestClientRelayErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMsg     string
		rateLimited bool
		noCredits   bool
	}{
		{"rate limit", 429, `{"error":"Rate limit exceeded. Please try again later."}`, "Rate limit exceeded. Please try again later.", true, false},
		{"credits", 402, `{"error":"AI credits exhausted. Please add credits to continue."}`, "AI credits exhausted. Please add credits to continue.", false, true},
		{"server", 500, `{"error":"AI service temporarily unavailable"}`, "AI service temporarily unavailable", false, false},
		{"no body", 502, `<html>bad gateway</html>`, "Failed to get response", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			_, err := NewClient(ts.URL, "", nil).Send(context.Background(), nil, nil, nil)
			var re *RelayError
			if !errors.As(err, &re) {
				t.Fatalf("expected RelayError, got %v", err)
			}
			if re.StatusCode != tt.status || re.Message != tt.wantMsg {
				t.Errorf("got %d %q", re.StatusCode, re.Message)
			}
			if re.IsRateLimited() != tt.rateLimited || re.IsCreditsExhausted() != tt.noCredits {
				t.Errorf("classification: rate=%v credits=%v", re.IsRateLimited(), re.IsCreditsExhausted())
			}
		})
	}
}

// stubSender replays scripted deltas and then returns err.
type stubSender struct {
	deltas []string
	err    error
	got    []Message
}

func (s *stubSender) Send(ctx context.Context, transcript []Message, sensor *SensorData, onDelta func(string)) (string, error) {
	s.got = transcript
	var b strings.Builder
	for _, d := range s.deltas {
		b.WriteString(d)
		onDelta(d)
	}
	return b.String(), s.err
}

func TestConversationGreeting(t *testing.T) {
	c := NewConversation()
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleAssistant || msgs[0].Content != Greeting {
		t.Errorf("initial transcript: %+v", msgs)
	}
}

func TestConversationSend(t *testing.T) {
	c := NewConversation()
	s := &stubSender{deltas: []string{"All ", "good."}}

	reply, err := c.Send(context.Background(), s, "  status?  ", nil, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "All good." {
		t.Errorf("reply: got %q", reply)
	}
	if len(s.got) != 2 || s.got[1].Content != "status?" {
		t.Errorf("transcript sent: %+v", s.got)
	}

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("transcript length: got %d, want 3", len(msgs))
	}
	if msgs[2].Role != RoleAssistant || msgs[2].Content != "All good." {
		t.Errorf("assistant message: %+v", msgs[2])
	}
}

func TestConversationDiscardsEmptyReplyOnError(t *testing.T) {
	c := NewConversation()
	s := &stubSender{err: &RelayError{StatusCode: 429, Message: "Rate limit exceeded. Please try again later."}}

	if _, err := c.Send(context.Background(), s, "hi", nil, nil); err == nil {
		t.Fatal("expected error")
	}
	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript length: got %d, want 2", len(msgs))
	}
	if msgs[1].Role != RoleUser {
		t.Errorf("last message should be the user's: %+v", msgs[1])
	}
}

func TestConversationKeepsPartialReplyOnError(t *testing.T) {
	c := NewConversation()
	s := &stubSender{deltas: []string{"Partial"}, err: errors.New("connection reset")}

	c.Send(context.Background(), s, "hi", nil, nil)
	msgs := c.Messages()
	if len(msgs) != 3 || msgs[2].Content != "Partial" {
		t.Errorf("partial reply should be kept: %+v", msgs)
	}
}

func TestConversationRejectsBlank(t *testing.T) {
	c := NewConversation()
	if _, err := c.Send(context.Background(), &stubSender{}, "   ", nil, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("got %v, want ErrEmptyMessage", err)
	}
	if len(c.Messages()) != 1 {
		t.Error("blank send should not change the transcript")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	if BuildSystemPrompt(nil) != SystemPrompt {
		t.Error("nil sensor data should give the bare prompt")
	}

	sensor := &SensorData{
		Temperature:       15,
		Humidity:          50.5,
		Gas:               100,
		TemperatureStatus: logic.LevelCritical,
		HumidityStatus:    logic.LevelNormal,
		GasStatus:         logic.LevelNormal,
		LastUpdate:        "2026-03-01 10:00:00",
		Thresholds:        logic.DefaultThresholds,
	}
	p := BuildSystemPrompt(sensor)
	for _, want := range []string{
		"- Temperature: 15°C (Status: critical)",
		"- Humidity: 50.5% (Status: normal)",
		"- Gas Level: 100 PPM (Status: normal)",
		"- Last Updated: 2026-03-01 10:00:00",
		"Temperature: Warning at 8°C, Critical at 12°C",
		"Gas: Warning at 300 PPM, Critical at 500 PPM",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRelayStreamsGatewayBody(t *testing.T) {
	var got gatewayRequest
	var auth string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n")
	}))
	defer gw.Close()

	relay := httptest.NewServer(NewRelay(RelayConfig{GatewayURL: gw.URL, APIKey: "gw-key"}))
	defer relay.Close()

	reply, err := NewClient(relay.URL, "", nil).Send(context.Background(),
		[]Message{{Role: RoleAssistant, Content: Greeting}, {Role: RoleUser, Content: "hello"}},
		&SensorData{Thresholds: logic.DefaultThresholds}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "Hi" {
		t.Errorf("reply: got %q", reply)
	}
	if auth != "Bearer gw-key" {
		t.Errorf("gateway auth: got %q", auth)
	}
	if got.Model != DefaultModel || !got.Stream {
		t.Errorf("gateway request: model=%q stream=%v", got.Model, got.Stream)
	}
	if len(got.Messages) != 3 || got.Messages[0].Role != RoleSystem {
		t.Fatalf("gateway messages: %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Content, "## Current Sensor Readings") {
		t.Error("system prompt should include sensor context")
	}
}

func TestRelayMapsGatewayErrors(t *testing.T) {
	tests := []struct {
		gateway int
		want    int
		msg     string
	}{
		{429, 429, msgRateLimited},
		{402, 402, msgCreditsExhausted},
		{503, 500, msgUnavailable},
	}
	for _, tt := range tests {
		gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.gateway)
		}))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/functions/chat", strings.NewReader(`{"messages":[]}`))
		NewRelay(RelayConfig{GatewayURL: gw.URL, APIKey: "k"}).ServeHTTP(rec, req)
		gw.Close()

		if rec.Code != tt.want {
			t.Errorf("gateway %d: status got %d, want %d", tt.gateway, rec.Code, tt.want)
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["error"] != tt.msg {
			t.Errorf("gateway %d: error got %q, want %q", tt.gateway, body["error"], tt.msg)
		}
	}
}

func TestRelayMissingKey(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/functions/chat", strings.NewReader(`{"messages":[]}`))
	NewRelay(RelayConfig{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
}

func TestRelayPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/functions/chat", nil)
	NewRelay(RelayConfig{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
