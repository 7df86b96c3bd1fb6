package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/pkg/models"
)

var (
	sessionDetach        bool
	sessionSkipCleanup   bool
	sessionDryRunCleanup bool
	sessionStatusJSON    bool
)

var (
	stepOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	stepFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stepSkipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, checkpoint and end development sessions",
	Long: `Commands for the development session lifecycle.

At most one session is active per project. The active session is kept in
.devassist/sessions/current.json; a session whose process died without ending
it is archived as crashed the next time a session starts.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start [description]",
	Short: "Start a development session",
	Long: `Start a development session and record heartbeats until it ends.

By default the command stays in the foreground and ends the session on
Ctrl+C or SIGTERM. With --detach it returns immediately and the session stays
active until 'devassist session end'; no heartbeats are recorded meanwhile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil {
			return fmt.Errorf("session manager not initialized")
		}

		session, err := Sessions.Start(cmdContext(cmd), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("starting session: %w", err)
		}

		if session.RecoveredFrom != "" {
			fmt.Printf("Recovered crashed session %s\n", session.RecoveredFrom)
		}
		fmt.Printf("Session %s started on branch %s\n", session.ID, session.GitBranch)

		if sessionDetach {
			Sessions.Close()
			fmt.Println("Detached. Run 'devassist session end' to finish the session.")
			return nil
		}

		fmt.Println("Recording heartbeats. Press Ctrl+C to end the session.")
		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		fmt.Println()

		// The signal context is done; the pipeline gets a fresh one.
		result, err := Sessions.End(context.Background())
		var noActive *core.NoActiveSessionError
		if errors.As(err, &noActive) {
			fmt.Printf("Session %s was already ended.\n", session.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("ending session: %w", err)
		}
		printEndResult(result)
		return nil
	},
}

var sessionCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <summary>",
	Short: "Record a checkpoint in the active session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := attachSession(); err != nil {
			return err
		}

		rec, err := Sessions.Checkpoint(cmdContext(cmd), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("recording checkpoint: %w", err)
		}
		fmt.Printf("Checkpoint %s recorded\n", rec.ID)
		return nil
	},
}

var sessionPulseCmd = &cobra.Command{
	Use:   "pulse [message]",
	Short: "Record a sprint check heartbeat",
	Long:  `Record a heartbeat carrying an optional message and restart the heartbeat interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := attachSession(); err != nil {
			return err
		}

		rec, err := Sessions.SprintCheck(strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("recording sprint check: %w", err)
		}
		fmt.Printf("Sprint check %s recorded: %s\n", rec.ID, rec.PrimaryText())
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active session",
	Long: `End the active session: build the summary, preserve knowledge, prepend the
summary to PROJECT_SESSIONS.md, run cleanup and archive the session.

A failing step is reported but never stops the steps after it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := attachSession(); err != nil {
			return err
		}

		var (
			result *models.EndResult
			err    error
		)
		if sessionSkipCleanup || sessionDryRunCleanup {
			result, err = Sessions.EndWith(cmdContext(cmd), core.EndOptions{
				SkipCleanup:   sessionSkipCleanup,
				DryRunCleanup: sessionDryRunCleanup,
			})
		} else {
			result, err = Sessions.End(cmdContext(cmd))
		}
		if err != nil {
			return fmt.Errorf("ending session: %w", err)
		}
		printEndResult(result)
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil {
			return fmt.Errorf("session manager not initialized")
		}
		if err := attachSession(); err != nil {
			var noActive *core.NoActiveSessionError
			if !errors.As(err, &noActive) {
				return err
			}
		}

		status := Sessions.Status()
		if sessionStatusJSON {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting status as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if !status.Active || status.Session == nil {
			fmt.Println("No active session.")
			return nil
		}
		s := status.Session
		fmt.Printf("Session %s\n\n", s.ID)
		fmt.Printf("  %-18s %s\n", "Project:", s.Project)
		fmt.Printf("  %-18s %s\n", "Branch:", s.GitBranch)
		if s.Description != "" {
			fmt.Printf("  %-18s %s\n", "Description:", s.Description)
		}
		fmt.Printf("  %-18s %s\n", "Started:", s.StartedAt.Format(time.RFC3339))
		fmt.Printf("  %-18s %s\n", "Duration:", core.FormatDuration(status.Duration))
		fmt.Printf("  %-18s %d\n", "Knowledge items:", status.KnowledgeCount)
		if s.LastHeartbeatAt != nil {
			fmt.Printf("  %-18s %s\n", "Last heartbeat:", s.LastHeartbeatAt.Format(time.RFC3339))
		}
		if s.LastCheckpointAt != nil {
			fmt.Printf("  %-18s %s\n", "Last checkpoint:", s.LastCheckpointAt.Format(time.RFC3339))
		}
		return nil
	},
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil {
			return fmt.Errorf("session manager not initialized")
		}

		sessions, err := Sessions.History()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No archived sessions.")
			return nil
		}

		fmt.Printf("%-40s %-8s %-20s %-9s %s\n", "ID", "STATE", "STARTED", "DURATION", "RECORDS")
		for _, s := range sessions {
			duration := "-"
			if s.EndedAt != nil {
				duration = core.FormatDuration(s.EndedAt.Sub(s.StartedAt))
			}
			fmt.Printf("%-40s %-8s %-20s %-9s %d\n",
				s.ID, s.State, s.StartedAt.Format("2006-01-02 15:04"), duration, len(s.KnowledgeRefs))
		}
		return nil
	},
}

// attachSession adopts the session persisted by an earlier invocation.
func attachSession() error {
	if Sessions == nil {
		return fmt.Errorf("session manager not initialized")
	}
	if _, err := Sessions.Attach(); err != nil {
		return err
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func printEndResult(result *models.EndResult) {
	if result.Summary != nil {
		fmt.Println(result.Summary.Report)
	}

	fmt.Println("Steps:")
	for _, step := range result.Steps {
		switch {
		case step.Skipped:
			fmt.Printf("  %s %s\n", stepSkipStyle.Render("-"), step.Name)
		case step.OK:
			fmt.Printf("  %s %s\n", stepOKStyle.Render("✓"), step.Name)
		default:
			fmt.Printf("  %s %s: %s\n", stepFailStyle.Render("✗"), step.Name, step.Error)
		}
	}

	if c := result.Cleanup; c != nil {
		verb := "Removed"
		if c.DryRun {
			verb = "Would remove"
		}
		fmt.Printf("\n%s %d item(s), %s; archived %d log(s)\n",
			verb, c.FilesDeleted, core.FormatBytes(c.BytesFreed), c.LogsArchived)
	}

	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s\n", e)
	}
	fmt.Printf("\nSession %s ended.\n", result.Session.ID)
}

func init() {
	sessionStartCmd.Flags().BoolVar(&sessionDetach, "detach", false, "Return immediately and leave the session active")
	sessionEndCmd.Flags().BoolVar(&sessionSkipCleanup, "skip-cleanup", false, "Do not run cleanup")
	sessionEndCmd.Flags().BoolVar(&sessionDryRunCleanup, "dry-run-cleanup", false, "Report what cleanup would delete without deleting")
	sessionStatusCmd.Flags().BoolVar(&sessionStatusJSON, "json", false, "Output status as JSON")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionCheckpointCmd)
	sessionCmd.AddCommand(sessionPulseCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
	rootCmd.AddCommand(sessionCmd)
}
