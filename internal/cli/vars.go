package cli

import (
	"context"

	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/internal/observability"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// KnowledgeWatcher streams records appended to the knowledge log.
type KnowledgeWatcher interface {
	Watch(ctx context.Context, fn func(models.KnowledgeRecord)) error
}

// Service instances, set during app initialization in app.go.
var (
	ProjectRoot  string
	Config       *models.Config
	Sessions     core.SessionManager
	KnowledgeMgr core.KnowledgeManager
	// Watcher is nil when the knowledge backend cannot be tailed.
	Watcher KnowledgeWatcher
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)

// searchDefaults returns the configured search limit and minimum similarity.
func searchDefaults() (int, float64) {
	if Config == nil {
		def := models.DefaultConfig()
		return def.Knowledge.SearchLimit, def.Knowledge.MinSimilarity
	}
	return Config.Knowledge.SearchLimit, Config.Knowledge.MinSimilarity
}
