package logic

import (
	"fmt"
	"strconv"
	"time"
)

// LevelFor maps a value onto a limit. Boundary values count as the breach
// level. There is no hysteresis: a value sitting exactly on a threshold
// flips level whenever it crosses it.
func LevelFor(value float64, limit Limit) Level {
	if value >= limit.Critical {
		return LevelCritical
	}
	if value >= limit.Warning {
		return LevelWarning
	}
	return LevelNormal
}

// Evaluate computes the per-channel and overall status of a reading.
func Evaluate(r Reading, t Thresholds) Status {
	s := Status{
		Temperature: LevelFor(r.Temperature, t.Temperature),
		Humidity:    LevelFor(r.Humidity, t.Humidity),
		Gas:         LevelFor(float64(r.Gas), t.Gas),
	}
	s.Overall = LevelNormal
	for _, c := range Channels {
		if s.For(c).Rank() > s.Overall.Rank() {
			s.Overall = s.For(c)
		}
	}
	return s
}

// Breaches builds one log entry per non-normal channel of status.
// IDs are taken from newID in channel order.
func Breaches(r Reading, t Thresholds, s Status, now time.Time, newID func() string) []LogEntry {
	var entries []LogEntry
	for _, c := range Channels {
		level := s.For(c)
		if level == LevelNormal {
			continue
		}
		limit := t.For(c)
		threshold := limit.Warning
		if level == LevelCritical {
			threshold = limit.Critical
		}
		value := r.Value(c)
		entries = append(entries, LogEntry{
			ID:        newID(),
			Timestamp: now,
			Sensor:    c,
			Value:     value,
			Threshold: threshold,
			Status:    level,
			Message:   breachMessage(c, level, value),
		})
	}
	return entries
}

func breachMessage(c Channel, level Level, value float64) string {
	v := strconv.FormatFloat(value, 'f', -1, 64)
	critical := level == LevelCritical
	switch c {
	case ChannelTemperature:
		if critical {
			return fmt.Sprintf("Temperature critically high: %s°C", v)
		}
		return fmt.Sprintf("Temperature above normal: %s°C", v)
	case ChannelHumidity:
		if critical {
			return fmt.Sprintf("Humidity critically high: %s%%", v)
		}
		return fmt.Sprintf("Humidity above normal: %s%%", v)
	default:
		if critical {
			return fmt.Sprintf("Gas level critical: %s PPM", v)
		}
		return fmt.Sprintf("Gas level elevated: %s PPM", v)
	}
}
