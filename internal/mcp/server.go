// Package mcp provides an MCP (Model Context Protocol) server that exposes
// devassist sessions, knowledge, and cleanup as MCP tools for AI coding
// assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/internal/observability"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// Server wraps devassist services and exposes them as MCP tools.
type Server struct {
	server      *gomcp.Server
	sessions    core.SessionManager
	knowledge   core.KnowledgeManager
	search      SearchDefaults
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// SearchDefaults are applied when a knowledge_search call omits them.
type SearchDefaults struct {
	Limit         int
	MinSimilarity float64
}

// NewServer creates a new MCP server with the given service dependencies.
// metricsCalc and alertEngine may be nil if observability is disabled.
func NewServer(sessions core.SessionManager, knowledge core.KnowledgeManager, search SearchDefaults,
	metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	if search.Limit <= 0 {
		search.Limit = core.DefaultSearchLimit
	}

	s := &Server{
		sessions:    sessions,
		knowledge:   knowledge,
		search:      search,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "devassist", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type sessionStartInput struct {
	Description string `json:"description,omitempty" jsonschema:"what this session is about"`
}

type sessionOutput struct {
	ID            string `json:"id"`
	Project       string `json:"project"`
	State         string `json:"state"`
	Description   string `json:"description,omitempty"`
	Branch        string `json:"branch"`
	StartedAt     string `json:"started_at"`
	EndedAt       string `json:"ended_at,omitempty"`
	RecoveredFrom string `json:"recovered_from,omitempty"`
	Records       int    `json:"records"`
}

type checkpointInput struct {
	Summary string `json:"summary" jsonschema:"required,what was accomplished since the last checkpoint"`
}

type recordOutput struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Category  string            `json:"category"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	CreatedAt string            `json:"created_at"`
}

type sessionEndInput struct {
	SkipCleanup   bool `json:"skip_cleanup,omitempty" jsonschema:"do not run the cleanup step"`
	DryRunCleanup bool `json:"dry_run_cleanup,omitempty" jsonschema:"report what cleanup would delete without deleting"`
}

type stepOutput struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type sessionEndOutput struct {
	Session  sessionOutput  `json:"session"`
	Report   string         `json:"report"`
	Steps    []stepOutput   `json:"steps"`
	Errors   []string       `json:"errors,omitempty"`
	Cleanup  *cleanupOutput `json:"cleanup,omitempty"`
	Duration string         `json:"duration"`
}

type sessionStatusInput struct{}

type sessionStatusOutput struct {
	Active         bool           `json:"active"`
	Session        *sessionOutput `json:"session,omitempty"`
	Duration       string         `json:"duration,omitempty"`
	KnowledgeCount int            `json:"knowledge_count"`
}

type knowledgeRecordInput struct {
	Kind     string            `json:"kind" jsonschema:"required,record kind: decision, progress or lesson"`
	Fields   map[string]string `json:"fields" jsonschema:"required,kind-specific fields, e.g. statement and context for a decision"`
	Category string            `json:"category,omitempty" jsonschema:"category such as architecture; defaults to general"`
}

type knowledgeSearchInput struct {
	Query         string   `json:"query" jsonschema:"required,free text to search for"`
	Category      string   `json:"category,omitempty" jsonschema:"restrict results to a category, kind or tag"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum number of results"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"drop results scoring below this value (0-1)"`
}

type scoredOutput struct {
	Record recordOutput `json:"record"`
	Score  float64      `json:"score"`
}

type knowledgeSearchOutput struct {
	Results []scoredOutput `json:"results"`
	Count   int            `json:"count"`
}

type knowledgeStatsInput struct{}

type knowledgeStatsOutput struct {
	Total      int            `json:"total"`
	ByKind     map[string]int `json:"by_kind"`
	ByCategory map[string]int `json:"by_category"`
	Oldest     string         `json:"oldest,omitempty"`
	Newest     string         `json:"newest,omitempty"`
	Enrichers  []string       `json:"enrichers,omitempty"`
}

type cleanupInput struct {
	DryRun bool `json:"dry_run,omitempty" jsonschema:"report what would be deleted without deleting"`
}

type cleanupOutput struct {
	DryRun        bool           `json:"dry_run"`
	FilesDeleted  int            `json:"files_deleted"`
	BytesFreed    int64          `json:"bytes_freed"`
	SpaceFreed    string         `json:"space_freed"`
	LogsArchived  int            `json:"logs_archived"`
	ByCategory    map[string]int `json:"by_category,omitempty"`
	Paths         []string       `json:"paths,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	GitMaintained bool           `json:"git_maintained"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	SessionsStarted     int            `json:"sessions_started"`
	SessionsEnded       int            `json:"sessions_ended"`
	SessionsRecovered   int            `json:"sessions_recovered"`
	Checkpoints         int            `json:"checkpoints"`
	Heartbeats          int            `json:"heartbeats"`
	KnowledgeRecorded   int            `json:"knowledge_recorded"`
	KnowledgeByKind     map[string]int `json:"knowledge_by_kind"`
	CleanupRuns         int            `json:"cleanup_runs"`
	CleanupFilesDeleted int            `json:"cleanup_files_deleted"`
	CleanupSpaceFreed   string         `json:"cleanup_space_freed"`
	LogsArchived        int            `json:"logs_archived"`
	ExternalFailures    int            `json:"external_failures"`
	Warnings            int            `json:"warnings"`
	EventCount          int            `json:"event_count"`
	OldestEvent         string         `json:"oldest_event,omitempty"`
	NewestEvent         string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "session_start",
		Description: "Start a development session. A session left behind by a crashed process is archived first. Heartbeats are recorded periodically until the session ends.",
	}, s.handleSessionStart)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "session_checkpoint",
		Description: "Record a checkpoint in the active session with a short summary of progress.",
	}, s.handleSessionCheckpoint)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "session_end",
		Description: "End the active session: build the summary report, preserve knowledge, update PROJECT_SESSIONS.md, run cleanup and archive the session.",
	}, s.handleSessionEnd)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "session_status",
		Description: "Report whether a session is active, its duration and how many knowledge records it produced.",
	}, s.handleSessionStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "knowledge_record",
		Description: "Record a decision (statement, context), progress update (milestone, status) or lesson (lesson, context) in the project knowledge log.",
	}, s.handleKnowledgeRecord)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "knowledge_search",
		Description: "Search recorded knowledge by approximate text similarity, optionally restricted to a category.",
	}, s.handleKnowledgeSearch)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "knowledge_stats",
		Description: "Get knowledge log statistics: totals by kind and category and the oldest and newest record times.",
	}, s.handleKnowledgeStats)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "cleanup_run",
		Description: "Delete temporary files, logs, test and build artifacts and caches from the project, archiving old terminal logs. Use dry_run to preview.",
	}, s.handleCleanupRun)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log, including sessions, checkpoints, heartbeats, knowledge records and cleanup totals.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (stale heartbeat, long session, recent crash, cleanup errors).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleSessionStart(ctx context.Context, _ *gomcp.CallToolRequest, input sessionStartInput) (*gomcp.CallToolResult, sessionOutput, error) {
	session, err := s.sessions.Start(ctx, input.Description)
	if err != nil {
		return errorResult(fmt.Sprintf("starting session: %s", err)), sessionOutput{}, nil
	}
	return nil, sessionToOutput(session), nil
}

func (s *Server) handleSessionCheckpoint(ctx context.Context, _ *gomcp.CallToolRequest, input checkpointInput) (*gomcp.CallToolResult, recordOutput, error) {
	if input.Summary == "" {
		return errorResult("summary is required"), recordOutput{}, nil
	}
	rec, err := s.sessions.Checkpoint(ctx, input.Summary)
	if err != nil {
		return errorResult(fmt.Sprintf("recording checkpoint: %s", err)), recordOutput{}, nil
	}
	return nil, recordToOutput(rec), nil
}

func (s *Server) handleSessionEnd(ctx context.Context, _ *gomcp.CallToolRequest, input sessionEndInput) (*gomcp.CallToolResult, sessionEndOutput, error) {
	var (
		res *models.EndResult
		err error
	)
	if input.SkipCleanup || input.DryRunCleanup {
		res, err = s.sessions.EndWith(ctx, core.EndOptions{SkipCleanup: input.SkipCleanup, DryRunCleanup: input.DryRunCleanup})
	} else {
		res, err = s.sessions.End(ctx)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("ending session: %s", err)), sessionEndOutput{}, nil
	}

	out := sessionEndOutput{
		Session: sessionToOutput(&res.Session),
		Steps:   make([]stepOutput, len(res.Steps)),
		Errors:  res.Errors,
	}
	for i, st := range res.Steps {
		out.Steps[i] = stepOutput{Name: st.Name, OK: st.OK, Skipped: st.Skipped, Error: st.Error}
	}
	if res.Summary != nil {
		out.Report = res.Summary.Report
		out.Duration = core.FormatDuration(res.Summary.Duration)
	}
	if res.Cleanup != nil {
		c := cleanupToOutput(res.Cleanup)
		out.Cleanup = &c
	}
	return nil, out, nil
}

func (s *Server) handleSessionStatus(_ context.Context, _ *gomcp.CallToolRequest, _ sessionStatusInput) (*gomcp.CallToolResult, sessionStatusOutput, error) {
	st := s.sessions.Status()
	out := sessionStatusOutput{
		Active:         st.Active,
		KnowledgeCount: st.KnowledgeCount,
	}
	if st.Session != nil {
		so := sessionToOutput(st.Session)
		out.Session = &so
		out.Duration = core.FormatDuration(st.Duration)
	}
	return nil, out, nil
}

func (s *Server) handleKnowledgeRecord(_ context.Context, _ *gomcp.CallToolRequest, input knowledgeRecordInput) (*gomcp.CallToolResult, recordOutput, error) {
	kind, ok := models.ParseKind(input.Kind)
	if !ok || kind == models.KindCheckpoint || kind == models.KindHeartbeat {
		return errorResult(fmt.Sprintf("invalid kind %q: must be one of decision, progress, lesson", input.Kind)), recordOutput{}, nil
	}
	rec, err := s.sessions.Record(kind, input.Fields, input.Category)
	if err != nil {
		return errorResult(fmt.Sprintf("recording %s: %s", kind, err)), recordOutput{}, nil
	}
	return nil, recordToOutput(rec), nil
}

func (s *Server) handleKnowledgeSearch(_ context.Context, _ *gomcp.CallToolRequest, input knowledgeSearchInput) (*gomcp.CallToolResult, knowledgeSearchOutput, error) {
	if input.Query == "" {
		return errorResult("query is required"), knowledgeSearchOutput{}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.search.Limit
	}
	minSim := s.search.MinSimilarity
	if input.MinSimilarity != nil {
		minSim = *input.MinSimilarity
	}

	results, err := s.sessions.Search(input.Query, input.Category, limit, minSim)
	if err != nil {
		return errorResult(fmt.Sprintf("searching knowledge: %s", err)), knowledgeSearchOutput{}, nil
	}
	out := knowledgeSearchOutput{
		Results: make([]scoredOutput, len(results)),
		Count:   len(results),
	}
	for i, r := range results {
		rec := r.Record
		out.Results[i] = scoredOutput{Record: recordToOutput(&rec), Score: r.Score}
	}
	return nil, out, nil
}

func (s *Server) handleKnowledgeStats(_ context.Context, _ *gomcp.CallToolRequest, _ knowledgeStatsInput) (*gomcp.CallToolResult, knowledgeStatsOutput, error) {
	stats, err := s.knowledge.Stats()
	if err != nil {
		return errorResult(fmt.Sprintf("reading knowledge stats: %s", err)), knowledgeStatsOutput{}, nil
	}
	out := knowledgeStatsOutput{
		Total:      stats.Total,
		ByKind:     make(map[string]int, len(stats.ByKind)),
		ByCategory: stats.ByCategory,
		Enrichers:  s.knowledge.Enrichers(),
	}
	for k, n := range stats.ByKind {
		out.ByKind[string(k)] = n
	}
	if stats.Oldest != nil {
		out.Oldest = stats.Oldest.Format(time.RFC3339)
	}
	if stats.Newest != nil {
		out.Newest = stats.Newest.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleCleanupRun(ctx context.Context, _ *gomcp.CallToolRequest, input cleanupInput) (*gomcp.CallToolResult, cleanupOutput, error) {
	report, err := s.sessions.Cleanup(ctx, input.DryRun)
	if err != nil {
		return errorResult(fmt.Sprintf("running cleanup: %s", err)), cleanupOutput{}, nil
	}
	return nil, cleanupToOutput(report), nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}
	out := metricsOutput{
		SessionsStarted:     metrics.SessionsStarted,
		SessionsEnded:       metrics.SessionsEnded,
		SessionsRecovered:   metrics.SessionsRecovered,
		Checkpoints:         metrics.Checkpoints,
		Heartbeats:          metrics.Heartbeats,
		KnowledgeRecorded:   metrics.KnowledgeRecorded,
		KnowledgeByKind:     metrics.KnowledgeByKind,
		CleanupRuns:         metrics.CleanupRuns,
		CleanupFilesDeleted: metrics.CleanupFilesDeleted,
		CleanupSpaceFreed:   core.FormatBytes(metrics.CleanupBytesFreed),
		LogsArchived:        metrics.LogsArchived,
		ExternalFailures:    metrics.ExternalFailures,
		Warnings:            metrics.Warnings,
		EventCount:          metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func sessionToOutput(s *models.Session) sessionOutput {
	out := sessionOutput{
		ID:            s.ID,
		Project:       s.Project,
		State:         string(s.State),
		Description:   s.Description,
		Branch:        s.GitBranch,
		StartedAt:     s.StartedAt.Format(time.RFC3339),
		RecoveredFrom: s.RecoveredFrom,
		Records:       len(s.KnowledgeRefs),
	}
	if s.EndedAt != nil {
		out.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	return out
}

func recordToOutput(r *models.KnowledgeRecord) recordOutput {
	return recordOutput{
		ID:        r.ID,
		Kind:      string(r.Kind),
		Category:  r.Category,
		Fields:    r.Fields,
		Tags:      r.Tags,
		SessionID: r.SessionID,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func cleanupToOutput(r *models.CleanupReport) cleanupOutput {
	return cleanupOutput{
		DryRun:        r.DryRun,
		FilesDeleted:  r.FilesDeleted,
		BytesFreed:    r.BytesFreed,
		SpaceFreed:    core.FormatBytes(r.BytesFreed),
		LogsArchived:  r.LogsArchived,
		ByCategory:    r.ByCategory,
		Paths:         r.Paths,
		Errors:        r.Errors,
		GitMaintained: r.GitMaintained,
	}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{KnowledgeByKind: make(map[string]int)}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func ParseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
