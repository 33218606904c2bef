package logic

const (
	// MaxHistory bounds the charted history.
	MaxHistory = 1000
	// MaxLogs bounds the breach log.
	MaxLogs = 500
)

// PrependHistory returns history with e at the front, newest-first, capped at
// MaxHistory. If an entry with the same ID is already present, history is
// returned unchanged. The input slice is never modified.
func PrependHistory(history []HistoryEntry, e HistoryEntry) []HistoryEntry {
	for _, h := range history {
		if h.ID == e.ID {
			return history
		}
	}
	n := len(history) + 1
	if n > MaxHistory {
		n = MaxHistory
	}
	out := make([]HistoryEntry, 0, n)
	out = append(out, e)
	return append(out, history[:n-1]...)
}

// PrependLogs returns logs with entries at the front, capped at MaxLogs.
// entries are in the order they were created, so the last one ends up first.
// The oldest entries are dropped silently.
func PrependLogs(logs []LogEntry, entries ...LogEntry) []LogEntry {
	if len(entries) == 0 {
		return logs
	}
	n := len(logs) + len(entries)
	if n > MaxLogs {
		n = MaxLogs
	}
	out := make([]LogEntry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return append(out, logs[:n-len(out)]...)
}

// HistoryFromReadings builds a newest-first history from oldest-first readings,
// dropping duplicate entry ids and anything beyond MaxHistory.
func HistoryFromReadings(readings []Reading) []HistoryEntry {
	var history []HistoryEntry
	for _, r := range readings {
		history = PrependHistory(history, HistoryEntryFrom(r))
	}
	return history
}
