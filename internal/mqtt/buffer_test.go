package mqtt

import (
	"testing"
)

func msg(topic string, n byte) bufferedMsg {
	return bufferedMsg{topic: topic, payload: []byte{n}}
}

func payloads(msgs []bufferedMsg) []byte {
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestOutboxEmptyDrain(t *testing.T) {
	o := newOutbox(10)
	got, dropped := o.drain()
	if got != nil || dropped != 0 {
		t.Errorf("expected nil/0 from empty drain, got %d items, %d dropped", len(got), dropped)
	}
}

func TestOutboxPushAndDrain(t *testing.T) {
	o := newOutbox(10)
	for i := 0; i < 5; i++ {
		o.push(msg(TopicReadings, byte(i)))
	}
	if o.len() != 5 {
		t.Errorf("len: got %d, want 5", o.len())
	}

	got, dropped := o.drain()
	if string(payloads(got)) != string([]byte{0, 1, 2, 3, 4}) {
		t.Errorf("order: got %v, want oldest first", payloads(got))
	}
	if dropped != 0 {
		t.Errorf("dropped: got %d, want 0", dropped)
	}

	if again, _ := o.drain(); again != nil {
		t.Errorf("expected nil from second drain, got %d items", len(again))
	}
}

func TestOutboxOverflowDropsOldestReading(t *testing.T) {
	o := newOutbox(4)
	o.push(msg(TopicSystem, 0))
	o.push(msg(TopicReadings, 1))
	o.push(msg(TopicAlerts, 2))
	o.push(msg(TopicReadings, 3))
	// Full: each push evicts the oldest reading.
	o.push(msg(TopicReadings, 4))
	o.push(msg(TopicReadings, 5))

	got, dropped := o.drain()
	want := []byte{0, 2, 4, 5}
	if string(payloads(got)) != string(want) {
		t.Errorf("kept: got %v, want %v", payloads(got), want)
	}
	if dropped != 2 {
		t.Errorf("dropped: got %d, want 2", dropped)
	}
}

func TestOutboxOverflowWithoutReadings(t *testing.T) {
	o := newOutbox(3)
	for i := 0; i < 5; i++ {
		o.push(msg(TopicAlerts, byte(i)))
	}
	got, dropped := o.drain()
	want := []byte{2, 3, 4}
	if string(payloads(got)) != string(want) {
		t.Errorf("kept: got %v, want %v", payloads(got), want)
	}
	if dropped != 2 {
		t.Errorf("dropped: got %d, want 2", dropped)
	}
}

func TestOutboxMultipleCycles(t *testing.T) {
	o := newOutbox(3)

	for i := 0; i < 5; i++ {
		o.push(msg(TopicReadings, byte(i)))
	}
	if _, dropped := o.drain(); dropped != 2 {
		t.Errorf("cycle 1 dropped: got %d, want 2", dropped)
	}

	o.push(msg(TopicReadings, 10))
	got, dropped := o.drain()
	if len(got) != 1 || got[0].payload[0] != 10 {
		t.Errorf("cycle 2: got %v", payloads(got))
	}
	if dropped != 0 {
		t.Errorf("drop count should reset after drain, got %d", dropped)
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(2)
	o.push(bufferedMsg{topic: TopicSystem, payload: []byte("x"), qos: 1, retained: true})
	got, _ := o.drain()
	if got[0].topic != TopicSystem || got[0].qos != 1 || !got[0].retained {
		t.Errorf("fields lost: %+v", got[0])
	}
}
