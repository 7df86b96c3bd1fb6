package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	SessionsStarted     int            `json:"sessions_started"`
	SessionsEnded       int            `json:"sessions_ended"`
	SessionsRecovered   int            `json:"sessions_recovered"`
	Checkpoints         int            `json:"checkpoints"`
	Heartbeats          int            `json:"heartbeats"`
	KnowledgeRecorded   int            `json:"knowledge_recorded"`
	KnowledgeByKind     map[string]int `json:"knowledge_by_kind"`
	CleanupRuns         int            `json:"cleanup_runs"`
	CleanupFilesDeleted int            `json:"cleanup_files_deleted"`
	CleanupBytesFreed   int64          `json:"cleanup_bytes_freed"`
	LogsArchived        int            `json:"logs_archived"`
	ExternalFailures    int            `json:"external_failures"`
	Warnings            int            `json:"warnings"`
	EventCount          int            `json:"event_count"`
	OldestEvent         *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent         *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		KnowledgeByKind: make(map[string]int),
	}

	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		if event.Level == LevelWarn || event.Level == LevelError {
			m.Warnings++
		}

		switch event.Type {
		case "session.started":
			m.SessionsStarted++
		case "session.ended":
			m.SessionsEnded++
		case "session.crash_recovered":
			m.SessionsRecovered++
		case "session.checkpoint":
			m.Checkpoints++
		case "session.heartbeat":
			m.Heartbeats++
		case "knowledge.recorded":
			m.KnowledgeRecorded++
			if kind, ok := event.Data["kind"].(string); ok {
				m.KnowledgeByKind[kind]++
			}
		case "cleanup.completed":
			if dry, _ := event.Data["dry_run"].(bool); dry {
				continue
			}
			m.CleanupRuns++
			m.CleanupFilesDeleted += int(number(event.Data["files_deleted"]))
			m.CleanupBytesFreed += int64(number(event.Data["bytes_freed"]))
			m.LogsArchived += int(number(event.Data["logs_archived"]))
		case "external.failed":
			m.ExternalFailures++
		}
	}

	return m, nil
}

// number reads a numeric event field. Values decoded from JSON are float64;
// values from events that never left the process keep their Go type.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
