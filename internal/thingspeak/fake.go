package thingspeak

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
)

// Fake is an in-memory stand-in for Client used in tests.
// Safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	latest    logic.Reading
	hasLatest bool
	history   []logic.Reading
	rng       []logic.Reading
	syncErr   error
	synced    []logic.Thresholds
	calls     int
	histCalls int
	block     chan struct{}
	histBlock chan struct{}
}

// NewFake creates a Fake that has no data yet.
func NewFake() *Fake {
	return &Fake{}
}

// SetLatest sets the reading returned by FetchLatest.
func (f *Fake) SetLatest(r logic.Reading) {
	f.mu.Lock()
	f.latest = r
	f.hasLatest = true
	f.mu.Unlock()
}

// SetUnavailable makes FetchLatest report no data.
func (f *Fake) SetUnavailable() {
	f.mu.Lock()
	f.hasLatest = false
	f.mu.Unlock()
}

// SetHistory sets the readings returned by FetchHistory (oldest first).
func (f *Fake) SetHistory(readings []logic.Reading) {
	f.mu.Lock()
	f.history = readings
	f.mu.Unlock()
}

// SetRange sets the readings returned by FetchRange.
func (f *Fake) SetRange(readings []logic.Reading) {
	f.mu.Lock()
	f.rng = readings
	f.mu.Unlock()
}

// SetSyncError makes SyncThresholds fail with err (nil to succeed).
func (f *Fake) SetSyncError(err error) {
	f.mu.Lock()
	f.syncErr = err
	f.mu.Unlock()
}

// Block makes FetchLatest wait until the returned function is called.
func (f *Fake) Block() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// BlockHistory makes FetchHistory wait until the returned function is
// called.
func (f *Fake) BlockHistory() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.histBlock = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// HistoryCalls returns how many times FetchHistory was called.
func (f *Fake) HistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histCalls
}

// LatestCalls returns how many times FetchLatest was called.
func (f *Fake) LatestCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Synced returns every thresholds value passed to SyncThresholds.
func (f *Fake) Synced() []logic.Thresholds {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Thresholds(nil), f.synced...)
}

// FetchLatest returns the reading set by SetLatest.
func (f *Fake) FetchLatest(ctx context.Context) (logic.Reading, bool) {
	f.mu.Lock()
	f.calls++
	block := f.block
	r, ok := f.latest, f.hasLatest
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return logic.Reading{}, false
		}
	}
	return r, ok
}

// FetchHistory returns the last n readings set by SetHistory.
func (f *Fake) FetchHistory(ctx context.Context, n int) []logic.Reading {
	f.mu.Lock()
	f.histCalls++
	block := f.histBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]logic.Reading(nil), h...)
}

// FetchRange returns the readings set by SetRange.
func (f *Fake) FetchRange(ctx context.Context, start, end time.Time) []logic.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Reading(nil), f.rng...)
}

// SyncThresholds records t and returns the configured error.
func (f *Fake) SyncThresholds(ctx context.Context, t logic.Thresholds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.synced = append(f.synced, t)
	return nil
}
