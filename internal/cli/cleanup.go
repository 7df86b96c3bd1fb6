package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/devassist/internal/core"
)

var (
	cleanupDryRun bool
	cleanupJSON   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove transient files from the project",
	Long: `Sweep temporary files, logs, test and build artifacts, package caches and
IDE files out of the project tree. Terminal logs older than the retention
window are gzipped into .devassist/archived_logs first.

Lock files, manifests, .git and the devassist state directories are never
touched. Use --dry-run to see what would be removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil {
			return fmt.Errorf("session manager not initialized")
		}

		report, err := Sessions.Cleanup(cmdContext(cmd), cleanupDryRun)
		if err != nil {
			return fmt.Errorf("running cleanup: %w", err)
		}

		if cleanupJSON {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting report as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if report.DryRun {
			fmt.Println("Dry run: nothing was deleted.")
			fmt.Println()
		}
		for _, p := range report.Paths {
			fmt.Printf("  %s\n", p)
		}
		if len(report.Paths) > 0 {
			fmt.Println()
		}

		cats := make([]string, 0, len(report.ByCategory))
		for c := range report.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Printf("  %-18s %d\n", c+":", report.ByCategory[c])
		}

		fmt.Printf("  %-18s %d\n", "Items removed:", report.FilesDeleted)
		fmt.Printf("  %-18s %s\n", "Space freed:", core.FormatBytes(report.BytesFreed))
		fmt.Printf("  %-18s %d\n", "Logs archived:", report.LogsArchived)
		if report.GitMaintained {
			fmt.Printf("  %-18s %s\n", "Git:", "pruned and collected")
		}
		for _, e := range report.Errors {
			fmt.Fprintf(os.Stderr, "warning: %s\n", e)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would be removed without removing it")
	cleanupCmd.Flags().BoolVar(&cleanupJSON, "json", false, "Output the report as JSON")
	rootCmd.AddCommand(cleanupCmd)
}
