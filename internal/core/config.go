// Package core contains the business logic for devassist: the session state
// machine, the knowledge store, the cleanup engine, the summary builder, and
// configuration loading.
package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// ConfigDir is the per-project directory holding devassist state.
const ConfigDir = ".devassist"

// ConfigurationManager loads and validates the per-project configuration
// stored in .devassist/config.yaml.
type ConfigurationManager interface {
	LoadConfig() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

// viperConfigManager implements ConfigurationManager using Viper.
type viperConfigManager struct {
	projectRoot string
}

// NewConfigurationManager creates a ConfigurationManager reading from the
// .devassist directory under projectRoot.
func NewConfigurationManager(projectRoot string) ConfigurationManager {
	return &viperConfigManager{projectRoot: projectRoot}
}

// LoadConfig reads .devassist/config.yaml. Missing keys, or a missing file,
// fall back to models.DefaultConfig. DEVASSIST_* environment variables
// override file values (for example DEVASSIST_KNOWLEDGE_BACKEND).
func (cm *viperConfigManager) LoadConfig() (*models.Config, error) {
	def := models.DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(cm.projectRoot, ConfigDir))
	v.SetEnvPrefix("DEVASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("session.heartbeat_interval", def.Session.HeartbeatInterval)
	v.SetDefault("session.external_timeout", def.Session.ExternalTimeout)
	v.SetDefault("session.checkpoint_snapshots", def.Session.CheckpointSnapshots)
	v.SetDefault("session.git_snapshot", def.Session.GitSnapshot)
	v.SetDefault("git.native", def.Git.Native)
	v.SetDefault("knowledge.backend", def.Knowledge.Backend)
	v.SetDefault("knowledge.related_limit", def.Knowledge.RelatedLimit)
	v.SetDefault("knowledge.enrichers", []string{})
	v.SetDefault("knowledge.search_limit", def.Knowledge.SearchLimit)
	v.SetDefault("knowledge.min_similarity", def.Knowledge.MinSimilarity)
	v.SetDefault("knowledge.preserve_keep", def.Knowledge.PreserveKeep)
	v.SetDefault("cleanup.on_end", def.Cleanup.OnEnd)
	v.SetDefault("cleanup.dry_run_on_end", def.Cleanup.DryRunOnEnd)
	v.SetDefault("cleanup.log_retention_days", def.Cleanup.LogRetentionDays)
	v.SetDefault("cleanup.git_maintenance", def.Cleanup.GitMaintenance)
	v.SetDefault("cleanup.require_source_for_build", def.Cleanup.RequireSourceForBuild)
	v.SetDefault("alerts.stale_heartbeat_minutes", def.Alerts.StaleHeartbeatMinutes)
	v.SetDefault("alerts.long_session_hours", def.Alerts.LongSessionHours)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s/config.yaml: %w", ConfigDir, err)
		}
	}

	cfg := &models.Config{
		Session: models.SessionConfig{
			HeartbeatInterval:   v.GetDuration("session.heartbeat_interval"),
			ExternalTimeout:     v.GetDuration("session.external_timeout"),
			CheckpointSnapshots: v.GetBool("session.checkpoint_snapshots"),
			GitSnapshot:         v.GetBool("session.git_snapshot"),
		},
		Git: models.GitConfig{Native: v.GetBool("git.native")},
		Knowledge: models.KnowledgeConfig{
			Backend:       strings.ToLower(v.GetString("knowledge.backend")),
			RelatedLimit:  v.GetInt("knowledge.related_limit"),
			Enrichers:     v.GetStringSlice("knowledge.enrichers"),
			SearchLimit:   v.GetInt("knowledge.search_limit"),
			MinSimilarity: v.GetFloat64("knowledge.min_similarity"),
			PreserveKeep:  v.GetInt("knowledge.preserve_keep"),
		},
		Cleanup: models.CleanupConfig{
			OnEnd:                 v.GetBool("cleanup.on_end"),
			DryRunOnEnd:           v.GetBool("cleanup.dry_run_on_end"),
			LogRetentionDays:      v.GetInt("cleanup.log_retention_days"),
			GitMaintenance:        v.GetBool("cleanup.git_maintenance"),
			RequireSourceForBuild: v.GetBool("cleanup.require_source_for_build"),
		},
		Alerts: models.AlertConfig{
			StaleHeartbeatMinutes: v.GetInt("alerts.stale_heartbeat_minutes"),
			LongSessionHours:      v.GetInt("alerts.long_session_hours"),
		},
	}

	if err := cm.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validBackends is the set of supported knowledge log backends.
var validBackends = map[string]bool{"jsonl": true, "sqlite": true}

// ValidateConfig checks a Config for invalid values and reports every
// problem at once.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Session.HeartbeatInterval < time.Second {
		errs = append(errs, fmt.Sprintf("session.heartbeat_interval must be at least 1s, got %s", cfg.Session.HeartbeatInterval))
	}
	if cfg.Session.ExternalTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("session.external_timeout must be positive, got %s", cfg.Session.ExternalTimeout))
	}
	if !validBackends[cfg.Knowledge.Backend] {
		errs = append(errs, fmt.Sprintf("knowledge.backend %q is invalid, must be one of: jsonl, sqlite", cfg.Knowledge.Backend))
	}
	if cfg.Knowledge.RelatedLimit < 0 {
		errs = append(errs, fmt.Sprintf("knowledge.related_limit must be non-negative, got %d", cfg.Knowledge.RelatedLimit))
	}
	if cfg.Knowledge.SearchLimit < 1 {
		errs = append(errs, fmt.Sprintf("knowledge.search_limit must be at least 1, got %d", cfg.Knowledge.SearchLimit))
	}
	if cfg.Knowledge.MinSimilarity < 0 || cfg.Knowledge.MinSimilarity > 1 {
		errs = append(errs, fmt.Sprintf("knowledge.min_similarity must be between 0 and 1, got %g", cfg.Knowledge.MinSimilarity))
	}
	if cfg.Knowledge.PreserveKeep < 1 {
		errs = append(errs, fmt.Sprintf("knowledge.preserve_keep must be at least 1, got %d", cfg.Knowledge.PreserveKeep))
	}
	for _, name := range cfg.Knowledge.Enrichers {
		if _, ok := BuiltinEnricher(name); !ok {
			errs = append(errs, fmt.Sprintf("knowledge.enrichers entry %q is invalid, must be one of: %s",
				name, strings.Join(BuiltinEnricherNames(), ", ")))
		}
	}
	if cfg.Cleanup.LogRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("cleanup.log_retention_days must be at least 1, got %d", cfg.Cleanup.LogRetentionDays))
	}
	if cfg.Alerts.StaleHeartbeatMinutes < 1 {
		errs = append(errs, fmt.Sprintf("alerts.stale_heartbeat_minutes must be at least 1, got %d", cfg.Alerts.StaleHeartbeatMinutes))
	}
	if cfg.Alerts.LongSessionHours < 1 {
		errs = append(errs, fmt.Sprintf("alerts.long_session_hours must be at least 1, got %d", cfg.Alerts.LongSessionHours))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnrichersFromConfig resolves the configured enricher names.
func EnrichersFromConfig(cfg *models.Config) []DomainEnricher {
	var out []DomainEnricher
	for _, name := range cfg.Knowledge.Enrichers {
		if e, ok := BuiltinEnricher(name); ok {
			out = append(out, e)
		}
	}
	return out
}
