// Package alert sends critical-status notifications to an external relay,
// at most once per combination of critical channels per wall-clock minute.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
)

// Alert is the notification payload.
type Alert struct {
	Temperature     float64   `json:"temperature"`
	Humidity        float64   `json:"humidity"`
	Gas             int       `json:"gas"`
	CriticalSensors []string  `json:"criticalSensors"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers an alert somewhere outside the process.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Key returns the dedup key for a set of critical channels at time t:
// the sorted display names joined by "-", then the minute bucket.
// 12:00:59 and 12:01:00 fall into different buckets.
func Key(critical []logic.Channel, t time.Time) string {
	names := make([]string, 0, len(critical))
	for _, c := range critical {
		names = append(names, c.DisplayName())
	}
	sort.Strings(names)
	return strings.Join(names, "-") + "-" + strconv.FormatInt(t.Unix()/60, 10)
}

// Dispatcher debounces alerts. The sent set lives as long as the Dispatcher
// and is never persisted.
type Dispatcher struct {
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	sent     map[string]struct{}
	inflight map[string]struct{}
}

// NewDispatcher creates a Dispatcher. now may be nil to use time.Now.
func NewDispatcher(n Notifier, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		notifier: n,
		now:      now,
		sent:     make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// MaybeDispatch notifies about r if status is overall critical and the same
// critical set has not already been sent this minute. It reports whether a
// notification was delivered. A failed delivery is logged and not recorded,
// so the next qualifying poll in the same minute tries again.
func (d *Dispatcher) MaybeDispatch(ctx context.Context, r logic.Reading, s logic.Status) (Alert, bool) {
	if s.Overall != logic.LevelCritical {
		return Alert{}, false
	}
	critical := s.Critical()
	if len(critical) == 0 {
		return Alert{}, false
	}
	now := d.now()
	key := Key(critical, now)

	d.mu.Lock()
	_, done := d.sent[key]
	_, busy := d.inflight[key]
	if done || busy {
		d.mu.Unlock()
		return Alert{}, false
	}
	d.inflight[key] = struct{}{}
	d.mu.Unlock()

	a := Alert{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Gas:         r.Gas,
		Timestamp:   now,
	}
	for _, c := range critical {
		a.CriticalSensors = append(a.CriticalSensors, c.DisplayName())
	}

	err := d.notifier.Notify(ctx, a)

	d.mu.Lock()
	delete(d.inflight, key)
	if err == nil {
		d.sent[key] = struct{}{}
	}
	d.mu.Unlock()

	if err != nil {
		log.Printf("alert: send failed for %s: %v", strings.Join(a.CriticalSensors, ", "), err)
		return Alert{}, false
	}
	log.Printf("alert: critical alert sent for %s", strings.Join(a.CriticalSensors, ", "))
	return a, true
}

// Sent reports whether key has been delivered.
func (d *Dispatcher) Sent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sent[key]
	return ok
}

// Multi delivers to every notifier. It succeeds if at least one of them did.
type Multi []Notifier

// Notify calls each notifier in order.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	if len(m) == 0 {
		return errors.New("no notifiers configured")
	}
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			log.Printf("alert: notifier %d: %v", i, err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return fmt.Errorf("all notifiers failed: %w", errors.Join(errs...))
	}
	return nil
}

// LogNotifier only logs. Used when no relay is configured so the dedup
// behaviour stays observable.
type LogNotifier struct{}

// Notify logs the alert.
func (LogNotifier) Notify(ctx context.Context, a Alert) error {
	log.Printf("alert: CRITICAL %s (temperature=%v humidity=%v gas=%d)",
		strings.Join(a.CriticalSensors, ", "), a.Temperature, a.Humidity, a.Gas)
	return nil
}
