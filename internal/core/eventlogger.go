package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
// Event types ending in ".failed" or ".degraded" are logged at WARN level.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

func logEvent(l EventLogger, eventType string, data map[string]any) {
	if l == nil {
		return
	}
	// Event logging is best-effort.
	_ = l.LogEvent(eventType, data)
}
