package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/devassist/internal/core"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display session, knowledge and cleanup metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include session starts, ends and crash recoveries, checkpoint and
heartbeat counts, knowledge records by kind, and cleanup totals. Dry-run
cleanups are not counted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		// Table format.
		fmt.Printf("Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Printf("  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Printf("  %-24s %d\n", "Sessions started:", metrics.SessionsStarted)
		fmt.Printf("  %-24s %d\n", "Sessions ended:", metrics.SessionsEnded)
		fmt.Printf("  %-24s %d\n", "Crashes recovered:", metrics.SessionsRecovered)
		fmt.Printf("  %-24s %d\n", "Checkpoints:", metrics.Checkpoints)
		fmt.Printf("  %-24s %d\n", "Heartbeats:", metrics.Heartbeats)
		fmt.Printf("  %-24s %d\n", "Knowledge recorded:", metrics.KnowledgeRecorded)

		if len(metrics.KnowledgeByKind) > 0 {
			fmt.Println("\n  Knowledge by kind:")
			kinds := make([]string, 0, len(metrics.KnowledgeByKind))
			for k := range metrics.KnowledgeByKind {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Printf("    %-20s %d\n", k+":", metrics.KnowledgeByKind[k])
			}
		}

		fmt.Println()
		fmt.Printf("  %-24s %d\n", "Cleanup runs:", metrics.CleanupRuns)
		fmt.Printf("  %-24s %d\n", "Items removed:", metrics.CleanupFilesDeleted)
		fmt.Printf("  %-24s %s\n", "Space freed:", core.FormatBytes(metrics.CleanupBytesFreed))
		fmt.Printf("  %-24s %d\n", "Logs archived:", metrics.LogsArchived)
		fmt.Printf("  %-24s %d\n", "External failures:", metrics.ExternalFailures)
		fmt.Printf("  %-24s %d\n", "Warnings:", metrics.Warnings)

		if metrics.OldestEvent != nil {
			fmt.Printf("\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Printf("  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
