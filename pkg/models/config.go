package models

import "time"

// SessionConfig controls the session state machine.
type SessionConfig struct {
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	ExternalTimeout     time.Duration `yaml:"external_timeout" mapstructure:"external_timeout"`
	CheckpointSnapshots bool          `yaml:"checkpoint_snapshots" mapstructure:"checkpoint_snapshots"`
	GitSnapshot         bool          `yaml:"git_snapshot" mapstructure:"git_snapshot"`
}

// GitConfig selects how repository state is inspected.
type GitConfig struct {
	Native bool `yaml:"native" mapstructure:"native"`
}

// KnowledgeConfig controls the knowledge store and its backend.
type KnowledgeConfig struct {
	Backend       string   `yaml:"backend" mapstructure:"backend"` // jsonl or sqlite
	RelatedLimit  int      `yaml:"related_limit" mapstructure:"related_limit"`
	Enrichers     []string `yaml:"enrichers,omitempty" mapstructure:"enrichers"`
	SearchLimit   int      `yaml:"search_limit" mapstructure:"search_limit"`
	MinSimilarity float64  `yaml:"min_similarity" mapstructure:"min_similarity"`
	PreserveKeep  int      `yaml:"preserve_keep" mapstructure:"preserve_keep"`
}

// CleanupConfig controls the cleanup engine and its use at session end.
type CleanupConfig struct {
	OnEnd                 bool `yaml:"on_end" mapstructure:"on_end"`
	DryRunOnEnd           bool `yaml:"dry_run_on_end" mapstructure:"dry_run_on_end"`
	LogRetentionDays      int  `yaml:"log_retention_days" mapstructure:"log_retention_days"`
	GitMaintenance        bool `yaml:"git_maintenance" mapstructure:"git_maintenance"`
	RequireSourceForBuild bool `yaml:"require_source_for_build" mapstructure:"require_source_for_build"`
}

// AlertConfig holds alert thresholds.
type AlertConfig struct {
	StaleHeartbeatMinutes int `yaml:"stale_heartbeat_minutes" mapstructure:"stale_heartbeat_minutes"`
	LongSessionHours      int `yaml:"long_session_hours" mapstructure:"long_session_hours"`
}

// Config holds all settings read from .devassist/config.yaml via Viper.
type Config struct {
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Git       GitConfig       `yaml:"git" mapstructure:"git"`
	Knowledge KnowledgeConfig `yaml:"knowledge" mapstructure:"knowledge"`
	Cleanup   CleanupConfig   `yaml:"cleanup" mapstructure:"cleanup"`
	Alerts    AlertConfig     `yaml:"alerts" mapstructure:"alerts"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			HeartbeatInterval:   5 * time.Minute,
			ExternalTimeout:     5 * time.Second,
			CheckpointSnapshots: true,
			GitSnapshot:         true,
		},
		Git: GitConfig{Native: true},
		Knowledge: KnowledgeConfig{
			Backend:       "jsonl",
			RelatedLimit:  3,
			SearchLimit:   10,
			MinSimilarity: 0.5,
			PreserveKeep:  100,
		},
		Cleanup: CleanupConfig{
			OnEnd:                 true,
			LogRetentionDays:      7,
			GitMaintenance:        true,
			RequireSourceForBuild: true,
		},
		Alerts: AlertConfig{
			StaleHeartbeatMinutes: 15,
			LongSessionHours:      8,
		},
	}
}
