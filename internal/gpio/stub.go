//go:build !linux

package gpio

import "errors"

// RealAlarm is not available on non-Linux platforms.
type RealAlarm struct{}

// NewRealAlarm returns an error on non-Linux platforms.
func NewRealAlarm(chipName string, pin int) (*RealAlarm, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (r *RealAlarm) Set(on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealAlarm) Close() error {
	return nil
}
