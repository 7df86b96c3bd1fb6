// Package internal provides the App struct that wires all components of
// devassist together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/internal/cli"
	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/internal/integration"
	"github.com/valter-silva-au/devassist/internal/observability"
	"github.com/valter-silva-au/devassist/internal/storage"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// App holds all service dependencies for one project.
type App struct {
	ProjectRoot string
	Config      *models.Config

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	FS           afero.Fs
	KnowledgeLog core.KnowledgeLog
	Preserved    *storage.YAMLPreservationArchive
	SessionStore *storage.FileSessionStore

	// Integration services
	Executor integration.CLIExecutor
	Git      core.GitClient

	// Core services
	KnowledgeMgr core.KnowledgeManager
	Cleanup      core.CleanupEngine
	SessionMgr   core.SessionManager

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator

	closers []func() error
}

// NewApp creates and wires all components for the project rooted at
// projectRoot.
func NewApp(projectRoot string) (*App, error) {
	app := &App{ProjectRoot: projectRoot, FS: afero.NewOsFs()}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(projectRoot)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	app.Config = cfg

	stateDir := filepath.Join(projectRoot, core.ConfigDir)

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(stateDir, "events.jsonl"))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		fmt.Fprintf(os.Stderr, "warning: event log disabled: %v\n", err)
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		app.closers = append(app.closers, app.EventLog.Close)
		events = &eventLogAdapter{log: app.EventLog}

		thresholds := observability.DefaultAlertThresholds()
		if cfg.Alerts.StaleHeartbeatMinutes > 0 {
			thresholds.StaleHeartbeatMinutes = cfg.Alerts.StaleHeartbeatMinutes
		}
		if cfg.Alerts.LongSessionHours > 0 {
			thresholds.LongSessionHours = cfg.Alerts.LongSessionHours
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}

	// --- Integration services ---
	app.Executor = integration.NewCLIExecutor()
	if cfg.Git.Native {
		app.Git = integration.NewNativeGit(projectRoot, cfg.Session.ExternalTimeout, app.Executor)
	} else {
		app.Git = integration.NewExecGit(projectRoot, cfg.Session.ExternalTimeout, app.Executor)
	}

	// --- Storage layer ---
	knowledgeDir := filepath.Join(stateDir, "knowledge")
	var watcher cli.KnowledgeWatcher
	switch cfg.Knowledge.Backend {
	case "sqlite":
		if err := app.FS.MkdirAll(knowledgeDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating knowledge directory: %w", err)
		}
		sqlLog, err := storage.NewSQLiteKnowledgeLog(knowledgeDir)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("opening knowledge database: %w", err)
		}
		app.closers = append(app.closers, sqlLog.Close)
		app.KnowledgeLog = sqlLog
	default:
		jsonLog := storage.NewJSONLKnowledgeLog(app.FS, knowledgeDir)
		app.KnowledgeLog = jsonLog
		watcher = jsonLog
	}
	app.Preserved = storage.NewYAMLPreservationArchive(app.FS, knowledgeDir)
	app.SessionStore = storage.NewFileSessionStore(app.FS, projectRoot, core.ConfigDir)

	// --- Core services ---
	project := core.NormalizeProject(projectRoot)
	app.KnowledgeMgr = core.NewKnowledgeManager(app.KnowledgeLog, app.Preserved, project, core.KnowledgeOptions{
		RelatedLimit: cfg.Knowledge.RelatedLimit,
		PreserveKeep: cfg.Knowledge.PreserveKeep,
		Enrichers:    core.EnrichersFromConfig(cfg),
		Events:       events,
	})
	app.Cleanup = core.NewCleanupEngine(app.FS, core.NewPatternMatcher(nil), core.CleanupOptions{
		LogRetention:          time.Duration(cfg.Cleanup.LogRetentionDays) * 24 * time.Hour,
		GitMaintenance:        cfg.Cleanup.GitMaintenance,
		RequireSourceForBuild: cfg.Cleanup.RequireSourceForBuild,
		Git:                   app.Git,
		Events:                events,
	})
	app.SessionMgr = core.NewSessionManager(app.SessionStore, app.KnowledgeMgr, app.Cleanup, app.Git, core.SessionOptions{
		ProjectRoot:         projectRoot,
		Project:             project,
		HeartbeatInterval:   cfg.Session.HeartbeatInterval,
		CheckpointSnapshots: cfg.Session.CheckpointSnapshots,
		GitSnapshot:         cfg.Session.GitSnapshot,
		CleanupOnEnd:        cfg.Cleanup.OnEnd,
		CleanupDryRunOnEnd:  cfg.Cleanup.DryRunOnEnd,
		Events:              events,
	})

	// --- Wire CLI package-level variables ---
	cli.ProjectRoot = projectRoot
	cli.Config = cfg
	cli.Sessions = app.SessionMgr
	cli.KnowledgeMgr = app.KnowledgeMgr
	cli.Watcher = watcher

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// Close stops the heartbeat and releases file handles. A session left
// active stays in the lock file.
func (a *App) Close() error {
	if a.SessionMgr != nil {
		a.SessionMgr.Close()
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// ResolveProjectRoot determines the project directory. It checks the
// DEVASSIST_ROOT env var, then walks up from the current directory looking
// for .devassist or .git, then falls back to the current directory.
func ResolveProjectRoot() string {
	if root := os.Getenv("DEVASSIST_ROOT"); root != "" {
		return root
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root, ok := findProjectRoot(cwd); ok {
		return root
	}
	return cwd
}

func findProjectRoot(dir string) (string, bool) {
	for {
		for _, marker := range []string{core.ConfigDir, ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   observability.LevelFor(eventType),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}
