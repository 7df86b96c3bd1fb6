package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/internal/observability"
	"github.com/valter-silva-au/devassist/internal/storage"
)

// --- Fake implementations ---

type fakeMetricsCalculator struct {
	metrics *observability.Metrics
}

func (f *fakeMetricsCalculator) Calculate(_ time.Time) (*observability.Metrics, error) {
	return f.metrics, nil
}

type fakeAlertEngine struct {
	alerts []observability.Alert
}

func (f *fakeAlertEngine) Evaluate() ([]observability.Alert, error) {
	return f.alerts, nil
}

// --- Test helpers ---

type testStack struct {
	fs       afero.Fs
	sessions core.SessionManager
	srv      *Server
}

func newTestStack(t *testing.T, metrics observability.MetricsCalculator, alerts observability.AlertEngine) *testStack {
	t.Helper()

	fs := afero.NewMemMapFs()
	root := "/work/demo"
	knowledgeDir := root + "/.devassist/knowledge"

	km := core.NewKnowledgeManager(
		storage.NewJSONLKnowledgeLog(fs, knowledgeDir),
		storage.NewYAMLPreservationArchive(fs, knowledgeDir),
		"demo",
		core.KnowledgeOptions{},
	)
	cleanup := core.NewCleanupEngine(fs, nil, core.CleanupOptions{})
	sm := core.NewSessionManager(
		storage.NewFileSessionStore(fs, root, core.ConfigDir),
		km, cleanup, nil,
		core.SessionOptions{
			ProjectRoot:       root,
			HeartbeatInterval: time.Hour,
			CleanupOnEnd:      true,
		},
	)
	t.Cleanup(sm.Close)

	return &testStack{
		fs:       fs,
		sessions: sm,
		srv:      NewServer(sm, km, SearchDefaults{Limit: 10, MinSimilarity: 0.3}, metrics, alerts, "test"),
	}
}

// connect attaches an in-memory client session to the server.
func connect(t *testing.T, srv *Server) *gomcp.ClientSession {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	// Connect server (non-blocking).
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// callTool calls a tool and fails the test on a protocol-level error.
func callTool(t *testing.T, session *gomcp.ClientSession, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(context.Background(), &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

// callToolAllowError is like callTool but returns nil instead of failing when
// the tool call returns an error (e.g. schema validation failure).
func callToolAllowError(t *testing.T, session *gomcp.ClientSession, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(context.Background(), &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		// Protocol-level error (e.g. schema validation) -- return nil.
		return nil
	}
	return result
}

// decode reads a tool's structured output, falling back to the text content.
func decode(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()

	if result.StructuredContent != nil {
		data, _ := json.Marshal(result.StructuredContent)
		if err := json.Unmarshal(data, out); err == nil {
			return
		}
	}
	text := extractText(result)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("unmarshalling output: %v (text was: %s)", err, text)
	}
}

func extractText(result *gomcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// --- Tests ---

func TestListTools(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("listing tools: %v", err)
	}
	want := map[string]bool{
		"session_start": false, "session_checkpoint": false, "session_end": false, "session_status": false,
		"knowledge_record": false, "knowledge_search": false, "knowledge_stats": false,
		"cleanup_run": false, "get_metrics": false, "get_alerts": false,
	}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected tool %s to be registered", name)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "session_start", map[string]any{"description": "auth refactor"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var started sessionOutput
	decode(t, result, &started)
	if started.State != "active" || started.Project != "demo" || started.Branch != "main" {
		t.Errorf("unexpected session: %+v", started)
	}

	result = callTool(t, session, "session_start", map[string]any{})
	if !result.IsError || !strings.Contains(extractText(result), "already active") {
		t.Errorf("expected already active error, got %q", extractText(result))
	}

	result = callTool(t, session, "session_checkpoint", map[string]any{"summary": "login form wired"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var ckpt recordOutput
	decode(t, result, &ckpt)
	if ckpt.Kind != "checkpoint" || ckpt.SessionID != started.ID {
		t.Errorf("unexpected checkpoint: %+v", ckpt)
	}

	result = callTool(t, session, "session_status", map[string]any{})
	var status sessionStatusOutput
	decode(t, result, &status)
	if !status.Active || status.KnowledgeCount != 1 {
		t.Errorf("unexpected status: %+v", status)
	}

	result = callTool(t, session, "session_end", map[string]any{"dry_run_cleanup": true})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var ended sessionEndOutput
	decode(t, result, &ended)
	if ended.Session.State != "ended" {
		t.Errorf("expected ended state, got %s", ended.Session.State)
	}
	if !strings.Contains(ended.Report, "✓ login form wired") {
		t.Errorf("expected checkpoint highlight in report, got %q", ended.Report)
	}
	if len(ended.Steps) != 6 {
		t.Errorf("expected 6 pipeline steps, got %d", len(ended.Steps))
	}
	if ended.Cleanup == nil || !ended.Cleanup.DryRun {
		t.Errorf("expected dry-run cleanup report, got %+v", ended.Cleanup)
	}

	history, err := afero.ReadFile(stack.fs, "/work/demo/PROJECT_SESSIONS.md")
	if err != nil {
		t.Fatalf("expected history file: %v", err)
	}
	if !strings.Contains(string(history), "### Session "+started.ID) {
		t.Errorf("expected session in history, got %q", history)
	}
}

func TestCheckpointWithoutSession(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "session_checkpoint", map[string]any{"summary": "nothing"})
	if !result.IsError || !strings.Contains(extractText(result), "no active session") {
		t.Errorf("expected no active session error, got %q", extractText(result))
	}
}

func TestCheckpointMissingSummary(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	// The SDK validates required fields at the schema level.
	result := callToolAllowError(t, session, "session_checkpoint", map[string]any{})
	if result == nil {
		return
	}
	if !result.IsError {
		t.Fatal("expected error result for missing summary")
	}
}

func TestKnowledgeRecordAndSearch(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "knowledge_record", map[string]any{
		"kind":     "decision",
		"fields":   map[string]any{"statement": "Use Redis for sessions", "context": "scaling"},
		"category": "architecture",
	})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var rec recordOutput
	decode(t, result, &rec)
	if !strings.HasPrefix(rec.ID, "dec-") || rec.Category != "architecture" {
		t.Errorf("unexpected record: %+v", rec)
	}

	result = callTool(t, session, "knowledge_search", map[string]any{"query": "redis sessions", "category": "architecture"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var found knowledgeSearchOutput
	decode(t, result, &found)
	if found.Count != 1 || found.Results[0].Record.ID != rec.ID {
		t.Fatalf("expected the decision to be found, got %+v", found)
	}
	if found.Results[0].Score < 0.3 {
		t.Errorf("expected score >= 0.3, got %f", found.Results[0].Score)
	}

	result = callTool(t, session, "knowledge_stats", map[string]any{})
	var stats knowledgeStatsOutput
	decode(t, result, &stats)
	if stats.Total != 1 || stats.ByKind["decision"] != 1 || stats.ByCategory["architecture"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestKnowledgeRecordValidation(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "knowledge_record", map[string]any{
		"kind":   "heartbeat",
		"fields": map[string]any{"note": "x"},
	})
	if !result.IsError || !strings.Contains(extractText(result), "invalid kind") {
		t.Errorf("expected invalid kind error, got %q", extractText(result))
	}

	result = callTool(t, session, "knowledge_record", map[string]any{
		"kind":   "lesson",
		"fields": map[string]any{"lesson": "check the cache"},
	})
	if !result.IsError || !strings.Contains(extractText(result), "context") {
		t.Errorf("expected missing context error, got %q", extractText(result))
	}
}

func TestCleanupRun(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	_ = afero.WriteFile(stack.fs, "/work/demo/app.log", []byte("log line\n"), 0o644)
	_ = afero.WriteFile(stack.fs, "/work/demo/package.json", []byte("{}"), 0o644)
	session := connect(t, stack.srv)

	result := callTool(t, session, "cleanup_run", map[string]any{"dry_run": true})
	var dry cleanupOutput
	decode(t, result, &dry)
	if !dry.DryRun || dry.FilesDeleted != 1 {
		t.Errorf("unexpected dry run report: %+v", dry)
	}
	if ok, _ := afero.Exists(stack.fs, "/work/demo/app.log"); !ok {
		t.Fatal("dry run must not delete files")
	}

	result = callTool(t, session, "cleanup_run", map[string]any{})
	var live cleanupOutput
	decode(t, result, &live)
	if live.FilesDeleted != 1 || live.SpaceFreed != "9 B" {
		t.Errorf("unexpected live report: %+v", live)
	}
	if ok, _ := afero.Exists(stack.fs, "/work/demo/package.json"); !ok {
		t.Error("package.json must be kept")
	}
}

func TestGetMetrics(t *testing.T) {
	oldest := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	mc := &fakeMetricsCalculator{metrics: &observability.Metrics{
		SessionsStarted:   3,
		SessionsEnded:     2,
		Checkpoints:       5,
		KnowledgeRecorded: 7,
		KnowledgeByKind:   map[string]int{"decision": 2},
		CleanupBytesFreed: 2048,
		EventCount:        20,
		OldestEvent:       &oldest,
	}}
	stack := newTestStack(t, mc, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "get_metrics", map[string]any{"since": "30d"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var out metricsOutput
	decode(t, result, &out)
	if out.SessionsStarted != 3 || out.Checkpoints != 5 || out.KnowledgeByKind["decision"] != 2 {
		t.Errorf("unexpected metrics: %+v", out)
	}
	if out.CleanupSpaceFreed != "2 KB" {
		t.Errorf("expected 2 KB, got %s", out.CleanupSpaceFreed)
	}
	if out.OldestEvent != "2025-01-10T00:00:00Z" {
		t.Errorf("unexpected oldest event %s", out.OldestEvent)
	}
}

func TestGetMetricsUnavailable(t *testing.T) {
	stack := newTestStack(t, nil, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "get_metrics", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error when metrics calculator is nil")
	}
}

func TestGetMetricsBadSince(t *testing.T) {
	stack := newTestStack(t, &fakeMetricsCalculator{metrics: &observability.Metrics{}}, nil)
	session := connect(t, stack.srv)

	result := callTool(t, session, "get_metrics", map[string]any{"since": "7w"})
	if !result.IsError {
		t.Fatal("expected error for unsupported suffix")
	}
}

func TestGetAlerts(t *testing.T) {
	ae := &fakeAlertEngine{alerts: []observability.Alert{{
		ID:          "stale-S1",
		Condition:   "heartbeat_stale",
		Severity:    observability.SeverityHigh,
		Message:     "session S1 has not sent a heartbeat for more than 15 minutes",
		TriggeredAt: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}}}
	stack := newTestStack(t, nil, ae)
	session := connect(t, stack.srv)

	result := callTool(t, session, "get_alerts", map[string]any{})
	var out getAlertsOutput
	decode(t, result, &out)
	if out.Count != 1 || out.Alerts[0].Severity != "high" || out.Alerts[0].TriggeredAt != "2025-04-01T12:00:00Z" {
		t.Errorf("unexpected alerts: %+v", out)
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		approx  time.Duration
	}{
		{"7d", false, 7 * 24 * time.Hour},
		{"24h", false, 24 * time.Hour},
		{"x", true, 0},
		{"5m", true, 0},
		{"abd", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSince(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSince(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			delta := time.Since(got) - tt.approx
			if delta < -time.Minute || delta > time.Minute {
				t.Errorf("ParseSince(%q) = %v, off by %s", tt.in, got, delta)
			}
		})
	}
}
