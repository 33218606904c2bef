package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable, oldest
// first. Readings are superseded by newer ones, so when the outbox is full
// the oldest reading is evicted; alerts and system events only go when no
// reading is left to evict.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int // since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if len(o.msgs) < o.capacity {
		o.msgs = append(o.msgs, msg)
		return
	}
	i := o.oldest(TopicReadings)
	if i < 0 {
		i = 0
	}
	if o.dropped == 0 {
		log.Printf("mqtt: buffer full (%d messages), dropping oldest %s", o.capacity, o.msgs[i].topic)
	}
	o.dropped++
	copy(o.msgs[i:], o.msgs[i+1:])
	o.msgs[len(o.msgs)-1] = msg
}

// oldest returns the index of the first message on topic, or -1.
func (o *outbox) oldest(topic string) int {
	for i, m := range o.msgs {
		if m.topic == topic {
			return i
		}
	}
	return -1
}

// drain empties the outbox, returning its messages oldest first and how
// many were evicted since the previous drain.
func (o *outbox) drain() ([]bufferedMsg, int) {
	dropped := o.dropped
	o.dropped = 0
	if len(o.msgs) == 0 {
		return nil, dropped
	}
	out := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.capacity)
	return out, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
