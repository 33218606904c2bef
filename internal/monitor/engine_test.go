package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/store"
	"github.com/sweeney/coldwatch/internal/thingspeak"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	engine   *Engine
	src      *thingspeak.Fake
	store    *store.MemoryStore
	notifier *alert.FakeNotifier
	tick     chan time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		src:      thingspeak.NewFake(),
		store:    store.NewMemoryStore(),
		notifier: alert.NewFakeNotifier(),
		tick:     make(chan time.Time),
	}
	ids := 0
	now := func() time.Time { return t0 }
	h.engine = New(Config{
		Now: now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("log-%d", ids)
		},
	}, h.src, h.store, alert.NewDispatcher(h.notifier, now))
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.start(context.Background(), h.tick, func() {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.settle(t, 1)
}

// settle waits until FetchLatest has been called want times and every
// started fetch has been applied.
func (h *harness) settle(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.src.LatestCalls() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d fetches, got %d", want, h.src.LatestCalls())
		}
		time.Sleep(time.Millisecond)
	}
	h.engine.waitPolls()
}

func (h *harness) poll(t *testing.T) {
	t.Helper()
	want := h.src.LatestCalls() + 1
	h.tick <- time.Now()
	h.settle(t, want)
}

func reading(id int64, temp, hum float64, gas int) logic.Reading {
	return logic.Reading{
		Temperature: temp,
		Humidity:    hum,
		Gas:         gas,
		Timestamp:   t0.Add(-time.Duration(100-id) * time.Minute),
		EntryID:     id,
	}
}

func TestSeedFromHistory(t *testing.T) {
	h := newHarness(t)
	h.src.SetHistory([]logic.Reading{
		reading(1, 4, 50, 100),
		reading(2, 5, 50, 100),
		reading(3, 6, 50, 100),
	})
	h.src.SetLatest(reading(3, 6, 50, 100))
	h.start(t)

	snap := h.engine.Snapshot()
	if !snap.Connected {
		t.Error("expected connected after seed")
	}
	if snap.Reading.EntryID != 3 || snap.LastEntryID != 3 {
		t.Errorf("current entry: got %d/%d, want 3", snap.Reading.EntryID, snap.LastEntryID)
	}
	if !snap.LastUpdate.Equal(reading(3, 6, 50, 100).Timestamp) {
		t.Errorf("last update: got %v, want reading timestamp", snap.LastUpdate)
	}
	if len(snap.History) != 3 {
		t.Fatalf("history length: got %d, want 3", len(snap.History))
	}
	for i, want := range []int64{3, 2, 1} {
		if snap.History[i].ID != want {
			t.Errorf("history[%d]: got %d, want %d", i, snap.History[i].ID, want)
		}
	}
	if len(snap.Logs) != 0 {
		t.Errorf("seed must not log, got %d entries", len(snap.Logs))
	}
	if snap.Status.Overall != logic.LevelNormal {
		t.Errorf("status: got %s, want normal", snap.Status.Overall)
	}
	if !snap.Running {
		t.Error("expected running")
	}
}

func TestCriticalTemperaturePoll(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 15, 50, 100))
	h.start(t)

	snap := h.engine.Snapshot()
	if snap.Status.Temperature != logic.LevelCritical || snap.Status.Overall != logic.LevelCritical {
		t.Errorf("status: got %+v", snap.Status)
	}
	if snap.Status.Humidity != logic.LevelNormal || snap.Status.Gas != logic.LevelNormal {
		t.Errorf("other channels should be normal: %+v", snap.Status)
	}
	if len(snap.Logs) != 1 {
		t.Fatalf("logs: got %d, want 1", len(snap.Logs))
	}
	l := snap.Logs[0]
	if l.Sensor != logic.ChannelTemperature || l.Threshold != 12 || l.Status != logic.LevelCritical {
		t.Errorf("log entry: got %+v", l)
	}
	if l.Message != "Temperature critically high: 15°C" {
		t.Errorf("message: got %q", l.Message)
	}
	if !snap.LastUpdate.Equal(t0) {
		t.Errorf("last update: got %v, want %v", snap.LastUpdate, t0)
	}

	alerts := h.notifier.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(alerts))
	}
	if got := alerts[0].CriticalSensors; len(got) != 1 || got[0] != "Temperature" {
		t.Errorf("critical sensors: got %v", got)
	}
	if alerts[0].Temperature != 15 || alerts[0].Humidity != 50 || alerts[0].Gas != 100 {
		t.Errorf("alert values: got %+v", alerts[0])
	}
}

func TestDuplicateEntryIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 15, 50, 100))
	h.start(t)
	before := h.engine.Snapshot()

	h.poll(t)
	h.poll(t)

	after := h.engine.Snapshot()
	if len(after.History) != len(before.History) {
		t.Errorf("history grew: %d -> %d", len(before.History), len(after.History))
	}
	if len(after.Logs) != len(before.Logs) {
		t.Errorf("logs grew: %d -> %d", len(before.Logs), len(after.Logs))
	}
	if got := len(h.notifier.Alerts()); got != 1 {
		t.Errorf("alerts: got %d, want 1", got)
	}
}

func TestNewEntryAppends(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 5, 50, 100))
	h.start(t)

	h.src.SetLatest(reading(11, 9, 75, 350))
	h.poll(t)

	snap := h.engine.Snapshot()
	if len(snap.History) != 2 || snap.History[0].ID != 11 {
		t.Fatalf("history: got %+v", snap.History)
	}
	if snap.Status.Overall != logic.LevelWarning {
		t.Errorf("overall: got %s, want warning", snap.Status.Overall)
	}
	if len(snap.Logs) != 3 {
		t.Fatalf("logs: got %d, want 3", len(snap.Logs))
	}
	// Last created entry comes first.
	if snap.Logs[0].Sensor != logic.ChannelGas || snap.Logs[2].Sensor != logic.ChannelTemperature {
		t.Errorf("log order: got %s..%s", snap.Logs[0].Sensor, snap.Logs[2].Sensor)
	}
	if len(h.notifier.Alerts()) != 0 {
		t.Error("warning must not alert")
	}
}

func TestUnavailableSourceDisconnects(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 5, 50, 100))
	h.start(t)

	h.src.SetUnavailable()
	h.poll(t)

	snap := h.engine.Snapshot()
	if snap.Connected {
		t.Error("expected disconnected")
	}
	if snap.Reading.EntryID != 10 || len(snap.History) != 1 {
		t.Errorf("state should be unchanged: %+v", snap)
	}

	h.src.SetLatest(reading(11, 5, 50, 100))
	h.poll(t)
	if !h.engine.Snapshot().Connected {
		t.Error("expected reconnected")
	}
}

func TestUpdateThresholdsRecomputes(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 10, 50, 100))
	h.start(t)
	if got := h.engine.Snapshot().Status.Temperature; got != logic.LevelWarning {
		t.Fatalf("temperature: got %s, want warning", got)
	}

	updates := h.engine.Subscribe()
	th := logic.DefaultThresholds
	th.Temperature = logic.Limit{Warning: 5, Critical: 9}
	if err := h.engine.UpdateThresholds(context.Background(), th); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}

	snap := h.engine.Snapshot()
	if snap.Status.Temperature != logic.LevelCritical {
		t.Errorf("temperature: got %s, want critical", snap.Status.Temperature)
	}
	if snap.Thresholds != th {
		t.Errorf("thresholds: got %+v", snap.Thresholds)
	}
	saved, found, _ := h.store.Load(context.Background())
	if !found || saved != th {
		t.Errorf("store: got %+v found=%v", saved, found)
	}
	if len(h.src.Synced()) != 0 {
		t.Error("UpdateThresholds must not sync upstream")
	}
	if len(snap.Logs) != 1 {
		t.Errorf("threshold change must not log: got %d entries", len(snap.Logs))
	}

	select {
	case u := <-updates:
		if u.Kind != KindThresholds || u.Status.Temperature != logic.LevelCritical {
			t.Errorf("update: got %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestUpdateThresholdsSaveError(t *testing.T) {
	h := newHarness(t)
	h.store.SaveError = errors.New("disk full")

	th := logic.DefaultThresholds
	th.Gas.Critical = 900
	if err := h.engine.UpdateThresholds(context.Background(), th); err == nil {
		t.Fatal("expected error")
	}
	if h.engine.Thresholds() != th {
		t.Error("thresholds should apply even when the save fails")
	}
}

func TestThresholdsLoadedFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	th := logic.DefaultThresholds
	th.Humidity = logic.Limit{Warning: 60, Critical: 65}
	st.Save(context.Background(), th)

	e := New(Config{}, thingspeak.NewFake(), st, nil)
	if e.Thresholds() != th {
		t.Errorf("got %+v, want %+v", e.Thresholds(), th)
	}
}

func TestStopDiscardsInFlightFetch(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 15, 50, 100))
	release := h.src.Block()

	updates := h.engine.Subscribe()
	if err := h.engine.start(context.Background(), h.tick, func() {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.src.LatestCalls() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	h.engine.Stop()
	release()
	h.engine.waitPolls()

	snap := h.engine.Snapshot()
	if snap.HasReading || len(snap.History) != 0 || len(snap.Logs) != 0 {
		t.Errorf("in-flight result should be discarded: %+v", snap)
	}
	if len(h.notifier.Alerts()) != 0 {
		t.Error("discarded fetch must not alert")
	}
	if snap.Running {
		t.Error("expected not running")
	}
	if _, ok := <-updates; ok {
		t.Error("subscription should be closed on Stop")
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.engine.start(context.Background(), h.tick, func() {}); !errors.Is(err, ErrStarted) {
		t.Errorf("got %v, want ErrStarted", err)
	}
}

func TestSubscribeAfterStop(t *testing.T) {
	h := newHarness(t)
	h.engine.Stop()
	if _, ok := <-h.engine.Subscribe(); ok {
		t.Error("expected closed channel")
	}
}

func TestAlertUpdatePublished(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 5, 90, 100))
	updates := h.engine.Subscribe()
	h.start(t)

	var kinds []UpdateKind
	var got *alert.Alert
	timeout := time.After(time.Second)
	for got == nil {
		select {
		case u := <-updates:
			kinds = append(kinds, u.Kind)
			if u.Kind == KindAlert {
				got = u.Alert
			}
		case <-timeout:
			t.Fatalf("no alert update, saw %v", kinds)
		}
	}
	if len(got.CriticalSensors) != 1 || got.CriticalSensors[0] != "Humidity" {
		t.Errorf("alert: got %+v", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	h := newHarness(t)
	h.src.SetLatest(reading(10, 15, 50, 100))
	h.start(t)

	snap := h.engine.Snapshot()
	snap.History[0].Temperature = -40
	snap.Logs[0].Message = "changed"

	again := h.engine.Snapshot()
	if again.History[0].Temperature != 15 || again.Logs[0].Message == "changed" {
		t.Error("snapshot shares memory with engine state")
	}
}
