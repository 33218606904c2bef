// Package thingspeak reads sensor readings from, and writes threshold
// settings to, a ThingSpeak channel.
//
// Channel field layout:
//
//	field1 temperature   field4 temperature warning   field7 humidity critical
//	field2 humidity      field5 temperature critical  field8 gas warning
//	field3 gas           field6 humidity warning      status gasCritical=<v>
//
// Read operations are lenient: any transport, status or decoding failure is
// logged and reported as "no data" so the caller keeps running.
package thingspeak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
)

// DefaultBaseURL is the public ThingSpeak API.
const DefaultBaseURL = "https://api.thingspeak.com"

// ErrRejected is returned by SyncThresholds when ThingSpeak answers "0",
// which it does for rate-limited or otherwise refused writes.
var ErrRejected = errors.New("thingspeak: update rejected (rate limit)")

// rangeLayout matches the ISO-8601 form ThingSpeak accepts for start/end.
const rangeLayout = "2006-01-02T15:04:05.000Z"

// Config identifies the channel and its keys.
type Config struct {
	BaseURL     string
	ChannelID   string
	ReadAPIKey  string
	WriteAPIKey string
	Timeout     time.Duration
}

// Client talks to the ThingSpeak REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client. A zero Timeout defaults to 10s.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Feed is one entry as ThingSpeak encodes it. Field values are strings or null.
type Feed struct {
	CreatedAt string  `json:"created_at"`
	EntryID   int64   `json:"entry_id"`
	Field1    *string `json:"field1"`
	Field2    *string `json:"field2"`
	Field3    *string `json:"field3"`
	Field4    *string `json:"field4,omitempty"`
	Field5    *string `json:"field5,omitempty"`
	Field6    *string `json:"field6,omitempty"`
	Field7    *string `json:"field7,omitempty"`
	Field8    *string `json:"field8,omitempty"`
}

// FeedsResponse is the body of feeds.json.
type FeedsResponse struct {
	Channel json.RawMessage `json:"channel"`
	Feeds   []Feed          `json:"feeds"`
}

// Reading converts a feed into a typed reading. Missing or unparsable
// numeric fields become 0.
func (f Feed) Reading() logic.Reading {
	ts, _ := time.Parse(time.RFC3339, f.CreatedAt)
	return logic.Reading{
		Temperature: parseFloat(f.Field1),
		Humidity:    parseFloat(f.Field2),
		Gas:         parseInt(f.Field3),
		Timestamp:   ts,
		EntryID:     f.EntryID,
	}
}

// FetchLatest returns the most recent reading. ok is false when no usable
// reading could be obtained.
func (c *Client) FetchLatest(ctx context.Context) (r logic.Reading, ok bool) {
	var feed Feed
	if err := c.getJSON(ctx, "/channels/"+c.cfg.ChannelID+"/feeds/last.json", nil, &feed); err != nil {
		log.Printf("thingspeak: fetch latest: %v", err)
		return logic.Reading{}, false
	}
	if feed.CreatedAt == "" {
		log.Printf("thingspeak: fetch latest: response has no created_at")
		return logic.Reading{}, false
	}
	return feed.Reading(), true
}

// FetchHistory returns up to n recent readings, oldest first.
func (c *Client) FetchHistory(ctx context.Context, n int) []logic.Reading {
	q := url.Values{}
	q.Set("results", strconv.Itoa(n))
	feeds, err := c.fetchFeeds(ctx, q)
	if err != nil {
		log.Printf("thingspeak: fetch history: %v", err)
		return nil
	}
	return readings(feeds)
}

// FetchRange returns readings created between start and end, in the order
// ThingSpeak returns them.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) []logic.Reading {
	q := url.Values{}
	q.Set("start", start.UTC().Format(rangeLayout))
	q.Set("end", end.UTC().Format(rangeLayout))
	feeds, err := c.fetchFeeds(ctx, q)
	if err != nil {
		log.Printf("thingspeak: fetch range: %v", err)
		return nil
	}
	return readings(feeds)
}

// SyncThresholds writes thresholds to the channel's settings fields so the
// remote device can pick them up. It returns ErrRejected when ThingSpeak
// refuses the write; callers should retry later, not immediately.
func (c *Client) SyncThresholds(ctx context.Context, t logic.Thresholds) error {
	q := url.Values{}
	q.Set("api_key", c.cfg.WriteAPIKey)
	q.Set("field4", formatFloat(t.Temperature.Warning))
	q.Set("field5", formatFloat(t.Temperature.Critical))
	q.Set("field6", formatFloat(t.Humidity.Warning))
	q.Set("field7", formatFloat(t.Humidity.Critical))
	q.Set("field8", formatFloat(t.Gas.Warning))
	q.Set("status", "gasCritical="+formatFloat(t.Gas.Critical))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/update?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sync thresholds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sync thresholds: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read sync response: %w", err)
	}
	entry := strings.TrimSpace(string(body))
	if entry == "0" {
		log.Printf("thingspeak: sync rejected, try again in 15 seconds")
		return ErrRejected
	}
	log.Printf("thingspeak: thresholds synced, entry %s", entry)
	return nil
}

func (c *Client) fetchFeeds(ctx context.Context, q url.Values) ([]Feed, error) {
	var body FeedsResponse
	if err := c.getJSON(ctx, "/channels/"+c.cfg.ChannelID+"/feeds.json", q, &body); err != nil {
		return nil, err
	}
	if body.Feeds == nil {
		return nil, errors.New("response has no feeds")
	}
	return body.Feeds, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	if q == nil {
		q = url.Values{}
	}
	if c.cfg.ReadAPIKey != "" {
		q.Set("api_key", c.cfg.ReadAPIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func readings(feeds []Feed) []logic.Reading {
	out := make([]logic.Reading, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, f.Reading())
	}
	return out
}

// parseFloat reads the leading decimal number of s, so "23.5 C" gives 23.5.
func parseFloat(s *string) float64 {
	if s == nil {
		return 0
	}
	str := strings.TrimSpace(*s)
	v, err := strconv.ParseFloat(str[:floatPrefix(str)], 64)
	if err != nil {
		return 0
	}
	return v
}

// floatPrefix returns the length of the longest prefix of str that is a
// decimal number with optional sign, fraction and exponent.
func floatPrefix(str string) int {
	digits := func(i int) int {
		for i < len(str) && str[i] >= '0' && str[i] <= '9' {
			i++
		}
		return i
	}
	i := 0
	if i < len(str) && (str[i] == '+' || str[i] == '-') {
		i++
	}
	start := i
	i = digits(i)
	mantissa := i > start
	if i < len(str) && str[i] == '.' {
		if j := digits(i + 1); j > i+1 || mantissa {
			mantissa = mantissa || j > i+1
			i = j
		}
	}
	if !mantissa {
		return 0
	}
	if i < len(str) && (str[i] == 'e' || str[i] == 'E') {
		j := i + 1
		if j < len(str) && (str[j] == '+' || str[j] == '-') {
			j++
		}
		if k := digits(j); k > j {
			i = k
		}
	}
	return i
}

// parseInt reads the leading integer of s, so "412.7" gives 412.
func parseInt(s *string) int {
	if s == nil {
		return 0
	}
	str := strings.TrimSpace(*s)
	end := 0
	for end < len(str) {
		ch := str[end]
		if (ch == '-' || ch == '+') && end == 0 {
			end++
			continue
		}
		if ch < '0' || ch > '9' {
			break
		}
		end++
	}
	v, err := strconv.Atoi(str[:end])
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
