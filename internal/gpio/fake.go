package gpio

import "sync"

// FakeAlarm is a test double that records every value written.
type FakeAlarm struct {
	mu sync.Mutex

	// Writes contains every value passed to Set, in order.
	Writes []bool

	// Closed tracks if Close was called.
	Closed bool

	// SetError, if set, will be returned by Set.
	SetError error
}

// NewFakeAlarm creates a FakeAlarm.
func NewFakeAlarm() *FakeAlarm {
	return &FakeAlarm{}
}

// Set records on.
func (f *FakeAlarm) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, on)
	return nil
}

// Close marks the alarm as closed.
func (f *FakeAlarm) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Value returns the last value written (false if none).
func (f *FakeAlarm) Value() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes) == 0 {
		return false
	}
	return f.Writes[len(f.Writes)-1]
}

// WriteCount returns how many times Set succeeded.
func (f *FakeAlarm) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}
