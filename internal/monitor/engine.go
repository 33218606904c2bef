// Package monitor owns the live sensor state: the current reading, its
// status against the thresholds, the charted history and the breach log.
//
// An Engine polls a Source on a fixed interval. Every state transition
// happens under a single lock; readers receive value snapshots or
// subscribe to a stream of updates.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/store"
)

// Defaults for Config.
const (
	DefaultPollInterval = 15 * time.Second
	DefaultHistorySeed  = 100
)

// ErrStarted is returned by Start when the engine was already started.
var ErrStarted = errors.New("monitor: engine already started")

// Source provides readings. thingspeak.Client satisfies it.
type Source interface {
	FetchLatest(ctx context.Context) (logic.Reading, bool)
	FetchHistory(ctx context.Context, n int) []logic.Reading
}

// Dispatcher decides whether a polled reading warrants an alert.
// alert.Dispatcher satisfies it.
type Dispatcher interface {
	MaybeDispatch(ctx context.Context, r logic.Reading, s logic.Status) (alert.Alert, bool)
}

// Config controls polling. Zero values take the defaults.
type Config struct {
	PollInterval time.Duration
	HistorySeed  int

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Engine is the single owner of the sensor state.
type Engine struct {
	src        Source
	store      store.Store
	dispatcher Dispatcher
	cfg        Config

	mu      sync.Mutex
	state   Snapshot
	gen     uint64
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[chan Update]struct{}

	polls sync.WaitGroup
}

// New creates an Engine. Thresholds are read from st immediately, falling
// back to the defaults. d may be nil to disable alerting.
func New(cfg Config, src Source, st store.Store, d Dispatcher) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HistorySeed <= 0 {
		cfg.HistorySeed = DefaultHistorySeed
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	t := store.LoadOrDefault(context.Background(), st)
	return &Engine{
		src:        src,
		store:      st,
		dispatcher: d,
		cfg:        cfg,
		state: Snapshot{
			Thresholds: t,
			Status: logic.Status{
				Temperature: logic.LevelNormal,
				Humidity:    logic.LevelNormal,
				Gas:         logic.LevelNormal,
				Overall:     logic.LevelNormal,
			},
		},
		subs: make(map[chan Update]struct{}),
	}
}

// Start seeds the history with one bulk load, then polls immediately and
// every PollInterval until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	if err := e.start(ctx, ticker.C, ticker.Stop); err != nil {
		ticker.Stop()
		return err
	}
	return nil
}

func (e *Engine) start(ctx context.Context, tick <-chan time.Time, stopTick func()) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	gen := e.gen
	e.mu.Unlock()

	e.seed(ctx, gen)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		cancel()
		stopTick()
		return nil
	}
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		defer stopTick()
		e.runLoop(loopCtx, ctx, gen, tick)
	}()
	log.Printf("monitor: started (poll=%v seed=%d)", e.cfg.PollInterval, e.cfg.HistorySeed)
	return nil
}

// runLoop launches one fetch per tick. Fetches use fetchCtx so that a fetch
// already in flight when the loop stops still runs to completion.
func (e *Engine) runLoop(ctx, fetchCtx context.Context, gen uint64, tick <-chan time.Time) {
	e.spawnPoll(fetchCtx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			e.spawnPoll(fetchCtx, gen)
		}
	}
}

func (e *Engine) spawnPoll(ctx context.Context, gen uint64) {
	e.polls.Add(1)
	go func() {
		defer e.polls.Done()
		e.poll(ctx, gen)
	}()
}

// Stop halts polling and closes every subscription. Results of fetches that
// are still in flight are discarded. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.gen++
	cancel, done := e.cancel, e.done
	for ch := range e.subs {
		close(ch)
		delete(e.subs, ch)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	log.Printf("monitor: stopped")
}

// seed loads the recent history and takes its newest entry as the current
// reading. An empty result leaves the engine disconnected until a poll
// succeeds.
func (e *Engine) seed(ctx context.Context, gen uint64) {
	readings := e.src.FetchHistory(ctx, e.cfg.HistorySeed)
	if len(readings) == 0 {
		log.Printf("monitor: no history available")
		return
	}
	latest := readings[len(readings)-1]

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.state.History = logic.HistoryFromReadings(readings)
	e.state.Reading = latest
	e.state.HasReading = true
	e.state.LastEntryID = latest.EntryID
	e.state.Connected = true
	e.state.LastUpdate = latest.Timestamp
	e.state.Status = logic.Evaluate(latest, e.state.Thresholds)
	n := len(e.state.History)
	u := e.updateLocked(KindReading, nil)
	e.mu.Unlock()

	e.publish(u)
	log.Printf("monitor: seeded %d history entries, latest entry %d", n, latest.EntryID)
}

// poll runs one fetch and applies its result.
func (e *Engine) poll(ctx context.Context, gen uint64) {
	r, ok := e.src.FetchLatest(ctx)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	if !ok {
		changed := e.state.Connected
		e.state.Connected = false
		var u Update
		if changed {
			u = e.updateLocked(KindConnection, nil)
		}
		e.mu.Unlock()
		if changed {
			log.Printf("monitor: source unavailable")
			e.publish(u)
		}
		return
	}
	if e.state.HasReading && r.EntryID == e.state.LastEntryID {
		e.mu.Unlock()
		return
	}

	now := e.cfg.Now()
	t := e.state.Thresholds
	s := logic.Evaluate(r, t)
	entries := logic.Breaches(r, t, s, now, e.cfg.NewID)

	e.state.Reading = r
	e.state.HasReading = true
	e.state.LastEntryID = r.EntryID
	e.state.Connected = true
	e.state.LastUpdate = now
	e.state.History = logic.PrependHistory(e.state.History, logic.HistoryEntryFrom(r))
	e.state.Status = s
	e.state.Logs = logic.PrependLogs(e.state.Logs, entries...)
	u := e.updateLocked(KindReading, entries)
	e.mu.Unlock()

	e.publish(u)

	if e.dispatcher == nil || s.Overall != logic.LevelCritical {
		return
	}
	a, sent := e.dispatcher.MaybeDispatch(ctx, r, s)
	if !sent {
		return
	}
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	au := e.updateLocked(KindAlert, nil)
	au.Alert = &a
	e.mu.Unlock()
	e.publish(au)
}

// UpdateThresholds replaces the thresholds, recomputes the status of the
// current reading and persists the new value. Nothing is sent upstream.
func (e *Engine) UpdateThresholds(ctx context.Context, t logic.Thresholds) error {
	e.mu.Lock()
	e.state.Thresholds = t
	if e.state.HasReading {
		e.state.Status = logic.Evaluate(e.state.Reading, t)
	}
	u := e.updateLocked(KindThresholds, nil)
	e.mu.Unlock()

	e.publish(u)

	if err := e.store.Save(ctx, t); err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}
	return nil
}

// Thresholds returns the thresholds in effect.
func (e *Engine) Thresholds() logic.Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Thresholds
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.History = append([]logic.HistoryEntry(nil), e.state.History...)
	s.Logs = append([]logic.LogEntry(nil), e.state.Logs...)
	s.Running = e.started && !e.stopped
	return s
}

// Subscribe returns a channel that receives an Update on every state
// transition. A subscriber that falls behind misses updates. The channel
// is closed by Stop, or immediately if the engine is already stopped.
func (e *Engine) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		close(ch)
		return ch
	}
	e.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (e *Engine) Unsubscribe(ch <-chan Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.subs {
		if c == ch {
			close(c)
			delete(e.subs, c)
			return
		}
	}
}

const subscriberBuffer = 16

// waitPolls blocks until every fetch started so far has been applied.
func (e *Engine) waitPolls() {
	e.polls.Wait()
}

func (e *Engine) updateLocked(kind UpdateKind, entries []logic.LogEntry) Update {
	return Update{
		Kind:       kind,
		Time:       e.cfg.Now(),
		Reading:    e.state.Reading,
		HasReading: e.state.HasReading,
		Status:     e.state.Status,
		Thresholds: e.state.Thresholds,
		Connected:  e.state.Connected,
		LastUpdate: e.state.LastUpdate,
		Logs:       entries,
	}
}

func (e *Engine) publish(u Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
