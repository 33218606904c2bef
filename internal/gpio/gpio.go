// Package gpio drives a local alarm output (buzzer, strobe or relay) with
// hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"log"
	"sync"

	"github.com/sweeney/coldwatch/internal/logic"
)

// Alarm is a single on/off output line.
type Alarm interface {
	// Set drives the output: true = alarm sounding.
	Set(on bool) error

	// Close releases GPIO resources, leaving the output off.
	Close() error
}

// DefaultPinAlarm is the BCM pin the alarm relay is wired to.
const DefaultPinAlarm = 17

// Driver follows the overall status and switches the alarm on while it is
// critical. The line is only written on transitions.
type Driver struct {
	alarm Alarm

	mu    sync.Mutex
	on    bool
	known bool
}

// NewDriver creates a Driver for a.
func NewDriver(a Alarm) *Driver {
	return &Driver{alarm: a}
}

// Apply sets the alarm for status s.
func (d *Driver) Apply(s logic.Status) error {
	want := s.Overall == logic.LevelCritical

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.known && d.on == want {
		return nil
	}
	if err := d.alarm.Set(want); err != nil {
		return err
	}
	d.on = want
	d.known = true
	if want {
		log.Printf("gpio: alarm ON")
	} else {
		log.Printf("gpio: alarm OFF")
	}
	return nil
}

// On reports the last value written.
func (d *Driver) On() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

// NoopAlarm is used when no alarm pin is configured.
type NoopAlarm struct{}

// Set does nothing.
func (NoopAlarm) Set(bool) error { return nil }

// Close does nothing.
func (NoopAlarm) Close() error { return nil }
