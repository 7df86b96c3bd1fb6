package observability

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) EventLog {
	t.Helper()
	log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), ".devassist", "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestEventLog_WriteAndRead(t *testing.T) {
	log := newTestLog(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	events := []Event{
		{
			Time:    now,
			Level:   "INFO",
			Type:    "session.started",
			Message: "session.started",
			Data:    map[string]any{"session_id": "S1"},
		},
		{
			Time:    now.Add(time.Second),
			Level:   "WARN",
			Type:    "external.failed",
			Message: "external.failed",
			Data:    map[string]any{"step": "git status"},
		},
	}

	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result))
	}
	if result[0].Type != "session.started" {
		t.Errorf("expected type session.started, got %s", result[0].Type)
	}
	if result[1].Level != "WARN" {
		t.Errorf("expected level WARN, got %s", result[1].Level)
	}
	if result[1].Data["step"] != "git status" {
		t.Errorf("expected data to round-trip, got %v", result[1].Data)
	}
}

func TestEventLog_DefaultsTimeAndLevel(t *testing.T) {
	log := newTestLog(t)

	if err := log.Write(Event{Type: "knowledge.read_degraded"}); err != nil {
		t.Fatalf("writing event: %v", err)
	}
	if err := log.Write(Event{Type: "knowledge.recorded"}); err != nil {
		t.Fatalf("writing event: %v", err)
	}

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if result[0].Level != LevelWarn || result[1].Level != LevelInfo {
		t.Errorf("expected WARN then INFO, got %s then %s", result[0].Level, result[1].Level)
	}
	if result[0].Time.IsZero() {
		t.Error("expected time to be filled in")
	}
}

func TestEventLog_Filters(t *testing.T) {
	log := newTestLog(t)
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []string{"session.started", "knowledge.recorded", "session.checkpoint", "session.ended"} {
		if err := log.Write(Event{Time: base.Add(time.Duration(i) * time.Hour), Type: typ}); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	since := base.Add(90 * time.Minute)
	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{}, 4},
		{"exact type", EventFilter{Type: "session.checkpoint"}, 1},
		{"type prefix", EventFilter{TypePrefix: "session."}, 3},
		{"since", EventFilter{Since: &since}, 2},
		{"level", EventFilter{Level: LevelWarn}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := log.Read(tt.filter)
			if err != nil {
				t.Fatalf("reading events: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func TestEventLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte("not json\n\n{\"type\":\"session.started\",\"level\":\"INFO\"}\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	got, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 valid event, got %d", len(got))
	}
}

func TestEventLog_ConcurrentWrites(t *testing.T) {
	log := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = log.Write(Event{Type: "session.heartbeat", Data: map[string]any{"session_id": "S1"}})
		}()
	}
	wg.Wait()

	got, err := log.Read(EventFilter{Type: "session.heartbeat"})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("expected 20 events, got %d", len(got))
	}
}

func TestLevelFor(t *testing.T) {
	tests := map[string]string{
		"session.started":          LevelInfo,
		"session.heartbeat.failed": LevelWarn,
		"external.failed":          LevelWarn,
		"knowledge.read_degraded":  LevelWarn,
		"session.crash_recovered":  LevelWarn,
		"cleanup.completed":        LevelInfo,
	}
	for typ, want := range tests {
		if got := LevelFor(typ); got != want {
			t.Errorf("LevelFor(%q) = %s, want %s", typ, got, want)
		}
	}
}
