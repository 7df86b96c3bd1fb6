package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	StaleHeartbeatMinutes int `yaml:"stale_heartbeat_minutes" json:"stale_heartbeat_minutes"`
	LongSessionHours      int `yaml:"long_session_hours" json:"long_session_hours"`
	CrashWindowHours      int `yaml:"crash_window_hours" json:"crash_window_hours"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		StaleHeartbeatMinutes: 15,
		LongSessionHours:      8,
		CrashWindowHours:      24,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by replaying session events.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// sessionState is the replayed view of one session.
type sessionState struct {
	id           string
	startedAt    time.Time
	lastActivity time.Time
	open         bool
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()

	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	sessions := replaySessions(events)

	var alerts []Alert
	alerts = append(alerts, ae.checkStaleHeartbeat(sessions, now)...)
	alerts = append(alerts, ae.checkLongSessions(sessions, now)...)
	alerts = append(alerts, ae.checkRecentCrashes(events, now)...)
	alerts = append(alerts, ae.checkCleanupErrors(events, now)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity)
	})
	return alerts, nil
}

func replaySessions(events []Event) map[string]*sessionState {
	sessions := make(map[string]*sessionState)
	for _, event := range events {
		id, _ := event.Data["session_id"].(string)
		if id == "" {
			continue
		}
		switch event.Type {
		case "session.started":
			sessions[id] = &sessionState{id: id, startedAt: event.Time, lastActivity: event.Time, open: true}
		case "session.heartbeat", "session.checkpoint":
			if s := sessions[id]; s != nil && event.Time.After(s.lastActivity) {
				s.lastActivity = event.Time
			}
		case "session.ended", "session.crash_recovered":
			if s := sessions[id]; s != nil {
				s.open = false
			}
		}
	}
	return sessions
}

// checkStaleHeartbeat flags open sessions whose last sign of life is older
// than the threshold. Such a session most likely died without ending.
func (ae *alertEngine) checkStaleHeartbeat(sessions map[string]*sessionState, now time.Time) []Alert {
	threshold := time.Duration(ae.thresholds.StaleHeartbeatMinutes) * time.Minute
	var alerts []Alert
	for _, s := range sessions {
		if s.open && now.Sub(s.lastActivity) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("stale-%s", s.id),
				Condition:   "heartbeat_stale",
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("session %s has not sent a heartbeat for more than %d minutes", s.id, ae.thresholds.StaleHeartbeatMinutes),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkLongSessions flags open sessions running longer than the threshold.
func (ae *alertEngine) checkLongSessions(sessions map[string]*sessionState, now time.Time) []Alert {
	threshold := time.Duration(ae.thresholds.LongSessionHours) * time.Hour
	var alerts []Alert
	for _, s := range sessions {
		if s.open && now.Sub(s.startedAt) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("long-%s", s.id),
				Condition:   "session_too_long",
				Severity:    SeverityLow,
				Message:     fmt.Sprintf("session %s has been running for more than %d hours", s.id, ae.thresholds.LongSessionHours),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkRecentCrashes reports sessions recovered as crashed within the window.
func (ae *alertEngine) checkRecentCrashes(events []Event, now time.Time) []Alert {
	window := time.Duration(ae.thresholds.CrashWindowHours) * time.Hour
	var alerts []Alert
	for _, event := range events {
		if event.Type != "session.crash_recovered" || now.Sub(event.Time) > window {
			continue
		}
		id, _ := event.Data["session_id"].(string)
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("crashed-%s", id),
			Condition:   "session_crashed",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("session %s did not end cleanly and was recovered", id),
			TriggeredAt: now,
		})
	}
	return alerts
}

// checkCleanupErrors reports the most recent cleanup run when it had errors.
func (ae *alertEngine) checkCleanupErrors(events []Event, now time.Time) []Alert {
	var last *Event
	for i := range events {
		if events[i].Type == "cleanup.completed" {
			last = &events[i]
		}
	}
	if last == nil {
		return nil
	}
	n := int(number(last.Data["errors"]))
	if n == 0 {
		return nil
	}
	return []Alert{{
		ID:          "cleanup-errors",
		Condition:   "cleanup_errors",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("last cleanup run reported %d errors", n),
		TriggeredAt: now,
	}}
}

func severityRank(s AlertSeverity) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	}
	return 2
}
