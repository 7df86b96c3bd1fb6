package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "devassist",
	Short: "devassist - development session and project memory",
	Long: `devassist tracks development sessions for a project and keeps a durable
memory of what happened in them.

A session records periodic heartbeats and checkpoints, survives crashes, and
on end writes a summary to PROJECT_SESSIONS.md and sweeps transient build
artifacts out of the tree. Decisions, progress updates and lessons are
recorded in an append-only knowledge log that can be searched later.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devassist %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command through fang.
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, rootCmd,
		fang.WithVersion(appVersion),
		fang.WithCommit(appCommit),
	)
}
