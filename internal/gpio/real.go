//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealAlarm drives an output line on actual hardware using Linux GPIO
// character device.
type RealAlarm struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealAlarm requests pin as an output, initially low.
func NewRealAlarm(chipName string, pin int) (*RealAlarm, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request alarm pin %d: %w", pin, err)
	}

	return &RealAlarm{chip: chip, line: line}, nil
}

// Set drives the line high (on) or low (off).
func (r *RealAlarm) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set alarm pin: %w", err)
	}
	return nil
}

// Close drives the line low, then returns it to input with pull-down
// (matching Pi boot defaults) before releasing it.
func (r *RealAlarm) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear alarm pin: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure alarm pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close alarm pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
