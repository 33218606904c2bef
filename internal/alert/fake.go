package alert

import (
	"context"
	"sync"
)

// FakeNotifier records alerts for test assertions. Safe for concurrent use.
type FakeNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

// NewFakeNotifier creates a FakeNotifier.
func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

// SetError makes Notify fail with err (nil to succeed).
func (f *FakeNotifier) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Notify records a unless an error is configured.
func (f *FakeNotifier) Notify(ctx context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

// Alerts returns the recorded alerts.
func (f *FakeNotifier) Alerts() []Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Alert(nil), f.alerts...)
}
