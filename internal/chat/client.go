package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return e.Message
}

// IsRateLimited reports a 429 answer.
func (e *RelayError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsCreditsExhausted reports a 402 answer.
func (e *RelayError) IsCreditsExhausted() bool {
	return e.StatusCode == http.StatusPaymentRequired
}

// defaultErrorMessage is used when the relay gives no usable error body.
const defaultErrorMessage = "Failed to get response"

// Request is the relay request body.
type Request struct {
	Messages   []Message   `json:"messages"`
	SensorData *SensorData `json:"sensorData,omitempty"`
}

// Client posts transcripts to a chat relay.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// NewClient creates a Client for the relay at url. token, if non-empty, is
// sent as a bearer token. hc may be nil.
func NewClient(url, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{url: url, token: token, http: hc}
}

// Send posts transcript and sensor context to the relay and decodes the
// streamed answer, calling onDelta (which may be nil) for every fragment.
// It returns the full answer. A failure after some fragments arrived
// returns the partial answer together with the error.
func (c *Client) Send(ctx context.Context, transcript []Message, sensor *SensorData, onDelta func(string)) (string, error) {
	body, err := json.Marshal(Request{Messages: transcript, SensorData: sensor})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", relayError(resp)
	}

	dec := &Decoder{OnDelta: onDelta}
	buf := make([]byte, 4096)
	for !dec.Done() {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dec.Text(), fmt.Errorf("read chat stream: %w", err)
		}
	}
	return dec.Text(), nil
}

func relayError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := defaultErrorMessage
	if err := json.Unmarshal(data, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		msg = body.Error
	}
	return &RelayError{StatusCode: resp.StatusCode, Message: msg}
}
