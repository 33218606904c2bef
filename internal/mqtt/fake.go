package mqtt

import (
	"sync"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
)

// FakePublisher is an in-memory Publisher. Tests read its fields once the
// code under test is done publishing, or use the locked accessors while it
// is still running.
type FakePublisher struct {
	mu sync.Mutex

	Readings       []logic.Reading
	Statuses       []logic.Status // parallel to Readings
	Alerts         []alert.Alert
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// PublishError fails readings and alerts; PublishSystemError fails
	// lifecycle events.
	PublishError       error
	PublishSystemError error

	Closed    bool
	Connected bool
}

// NewFakePublisher returns an empty, disconnected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishReading(r logic.Reading, s logic.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Readings = append(f.Readings, r)
	f.Statuses = append(f.Statuses, s)
	return nil
}

func (f *FakePublisher) PublishAlert(a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Alerts = append(f.Alerts, a)
	return nil
}

// PublishSystem records the event together with the payload the real
// publisher would have sent for it.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *FakePublisher) ReadingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Readings)
}

func (f *FakePublisher) AlertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Alerts)
}

// LastOverall returns the overall level of the newest published reading,
// or "" when nothing was published.
func (f *FakePublisher) LastOverall() logic.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return ""
	}
	return f.Statuses[len(f.Statuses)-1].Overall
}

// Reset returns the fake to its initial state.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Readings, f.Statuses, f.Alerts = nil, nil, nil
	f.SystemEvents, f.SystemPayloads = nil, nil
	f.PublishError, f.PublishSystemError = nil, nil
	f.Closed, f.Connected = false, false
}
