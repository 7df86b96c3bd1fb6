package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/pkg/models"
)

var (
	knowledgeCategory      string
	knowledgeFields        = map[string]*string{}
	knowledgeSearchLimit   int
	knowledgeMinSimilarity float64
	knowledgeEnrich        bool
	knowledgeSearchJSON    bool
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Record and search project knowledge",
	Long: `Record decisions, progress updates and lessons in the project knowledge
log and search them by approximate text similarity.

Records are append-only and stored under .devassist/knowledge/.`,
}

var knowledgeRecordCmd = &cobra.Command{
	Use:   "record <decision|progress|lesson> [text]",
	Short: "Record a decision, progress update or lesson",
	Long: `Record a knowledge item. The optional text argument fills the primary
field of the kind (statement, milestone or lesson); other fields are set with
flags.

  devassist knowledge record decision "Use Redis for sessions" --context "scaling"
  devassist knowledge record progress "Login form" --status done
  devassist knowledge record lesson "Check the cache first" --context "slow tests"

The record is attributed to the active session, if any.`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"decision", "progress", "lesson"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil {
			return fmt.Errorf("session manager not initialized")
		}

		kind, ok := models.ParseKind(args[0])
		if !ok || kind == models.KindCheckpoint || kind == models.KindHeartbeat {
			return fmt.Errorf("invalid kind %q: must be one of decision, progress, lesson", args[0])
		}

		fields := collectFields(kind, strings.Join(args[1:], " "))
		if err := attachSession(); err != nil {
			var noActive *core.NoActiveSessionError
			if !errors.As(err, &noActive) {
				return err
			}
		}

		rec, err := Sessions.Record(kind, fields, knowledgeCategory)
		if err != nil {
			return fmt.Errorf("recording %s: %w", kind, err)
		}

		fmt.Printf("Recorded %s %s (category: %s)\n", rec.Kind, rec.ID, rec.Category)
		if len(rec.Tags) > 0 {
			fmt.Printf("  Tags: %s\n", strings.Join(rec.Tags, ", "))
		}
		if rec.SessionID != "" {
			fmt.Printf("  Session: %s\n", rec.SessionID)
		}
		return nil
	},
}

// collectFields builds the field map of kind from the flags, with primary
// filling the leading field when its flag is unset.
func collectFields(kind models.KnowledgeKind, primary string) map[string]string {
	fields := make(map[string]string)
	for _, name := range kind.Fields() {
		if v, ok := knowledgeFields[name]; ok && *v != "" {
			fields[name] = *v
		}
	}
	names := kind.Fields()
	if primary != "" && len(names) > 0 && fields[names[0]] == "" {
		fields[names[0]] = primary
	}
	return fields
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recorded knowledge",
	Long: `Search the knowledge log. Each record is scored by the fraction of query
words it contains; results below the minimum similarity are dropped.

--category restricts results to a category, a kind, a tag or an enricher name.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if KnowledgeMgr == nil {
			return fmt.Errorf("knowledge manager not initialized")
		}

		limit, minSim := searchDefaults()
		if cmd.Flags().Changed("limit") {
			limit = knowledgeSearchLimit
		}
		if cmd.Flags().Changed("min-similarity") {
			minSim = knowledgeMinSimilarity
		}

		query := strings.Join(args, " ")
		results, err := KnowledgeMgr.Search(query, knowledgeCategory, limit, minSim)
		if err != nil {
			return fmt.Errorf("searching knowledge: %w", err)
		}

		var enriched []*models.EnrichedRecord
		if knowledgeEnrich {
			for _, r := range results {
				e, err := KnowledgeMgr.Enrich(r.Record)
				if err != nil {
					return fmt.Errorf("enriching %s: %w", r.Record.ID, err)
				}
				enriched = append(enriched, e)
			}
		}

		if knowledgeSearchJSON {
			var payload any = results
			if knowledgeEnrich {
				payload = enriched
			}
			data, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting results as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(results) == 0 {
			fmt.Printf("No knowledge found for %q.\n", query)
			return nil
		}

		fmt.Printf("%d result(s) for %q:\n\n", len(results), query)
		for i, r := range results {
			printRecord(r.Record, r.Score)
			if knowledgeEnrich {
				for _, rel := range enriched[i].Related {
					fmt.Printf("      related: %s %s (%.2f)\n", rel.Record.ID, rel.Record.PrimaryText(), rel.Score)
				}
				if len(enriched[i].Tags) > 0 {
					fmt.Printf("      tags: %s\n", strings.Join(enriched[i].Tags, ", "))
				}
			}
		}
		return nil
	},
}

func printRecord(rec models.KnowledgeRecord, score float64) {
	fmt.Printf("  [%.2f] %s %s (%s)\n", score, rec.ID, rec.Kind, rec.Category)
	fmt.Printf("      %s\n", rec.Text())
}

var knowledgeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge log statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if KnowledgeMgr == nil {
			return fmt.Errorf("knowledge manager not initialized")
		}

		stats, err := KnowledgeMgr.Stats()
		if err != nil {
			return fmt.Errorf("reading knowledge stats: %w", err)
		}

		fmt.Printf("Knowledge items: %d\n", stats.Total)
		if stats.Total > 0 {
			fmt.Println("\n  By kind:")
			for _, k := range models.AllKinds {
				if n := stats.ByKind[k]; n > 0 {
					fmt.Printf("    %-14s %d\n", string(k)+":", n)
				}
			}

			fmt.Println("\n  By category:")
			cats := make([]string, 0, len(stats.ByCategory))
			for c := range stats.ByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				fmt.Printf("    %-14s %d\n", c+":", stats.ByCategory[c])
			}
		}
		if stats.Oldest != nil {
			fmt.Printf("\n  %-16s %s\n", "Oldest:", stats.Oldest.Format(time.RFC3339))
		}
		if stats.Newest != nil {
			fmt.Printf("  %-16s %s\n", "Newest:", stats.Newest.Format(time.RFC3339))
		}
		if names := KnowledgeMgr.Enrichers(); len(names) > 0 {
			fmt.Printf("  %-16s %s\n", "Enrichers:", strings.Join(names, ", "))
		}
		if preserved, err := KnowledgeMgr.Preserved(); err == nil && len(preserved) > 0 {
			fmt.Printf("  %-16s %d\n", "Preserved:", len(preserved))
		}
		return nil
	},
}

var knowledgeWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print knowledge records as they are appended",
	Long:  `Follow the knowledge log and print every new record until Ctrl+C. Heartbeats are not shown.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Watcher == nil {
			return fmt.Errorf("knowledge watch requires the jsonl backend")
		}

		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Watching knowledge log. Press Ctrl+C to stop.")
		err := Watcher.Watch(ctx, func(rec models.KnowledgeRecord) {
			if rec.Kind == models.KindHeartbeat {
				return
			}
			fmt.Printf("%s %-10s %s %s\n", rec.CreatedAt.Local().Format("15:04:05"), rec.Kind, rec.ID, rec.PrimaryText())
		})
		if err != nil {
			return fmt.Errorf("watching knowledge log: %w", err)
		}
		return nil
	},
}

func init() {
	knowledgeRecordCmd.Flags().StringVar(&knowledgeCategory, "category", "", "Category (default general)")
	seen := map[string]bool{}
	for _, kind := range []models.KnowledgeKind{models.KindDecision, models.KindProgress, models.KindLesson} {
		for _, name := range kind.Fields() {
			if seen[name] {
				continue
			}
			seen[name] = true
			knowledgeFields[name] = knowledgeRecordCmd.Flags().String(name, "", fmt.Sprintf("The %s field", name))
		}
	}

	knowledgeSearchCmd.Flags().StringVar(&knowledgeCategory, "category", "", "Restrict to a category, kind, tag or enricher")
	knowledgeSearchCmd.Flags().IntVar(&knowledgeSearchLimit, "limit", core.DefaultSearchLimit, "Maximum number of results")
	knowledgeSearchCmd.Flags().Float64Var(&knowledgeMinSimilarity, "min-similarity", 0.5, "Drop results scoring below this value")
	knowledgeSearchCmd.Flags().BoolVar(&knowledgeEnrich, "enrich", false, "Show related records and domain tags")
	knowledgeSearchCmd.Flags().BoolVar(&knowledgeSearchJSON, "json", false, "Output results as JSON")

	knowledgeCmd.AddCommand(knowledgeRecordCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeStatsCmd)
	knowledgeCmd.AddCommand(knowledgeWatchCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
