package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RelayNotifier posts alerts as JSON to an HTTP notification function
// (for example an email-sending serverless function).
type RelayNotifier struct {
	url   string
	token string
	http  *http.Client
}

// NewRelayNotifier creates a RelayNotifier. token, if set, is sent as a
// bearer token.
func NewRelayNotifier(url, token string, timeout time.Duration) *RelayNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayNotifier{url: url, token: token, http: &http.Client{Timeout: timeout}}
}

// Notify posts a to the relay. Any non-2xx status is an error.
func (n *RelayNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
