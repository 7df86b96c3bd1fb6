package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/devassist/internal/observability"
)

var alertsJSON bool

var severityStyles = map[observability.AlertSeverity]lipgloss.Style{
	observability.SeverityHigh:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	observability.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	observability.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

// alertHints suggests the command that clears each condition.
var alertHints = map[string]string{
	"heartbeat_stale":  "run 'devassist session pulse' or end the session",
	"session_too_long": "checkpoint your work and run 'devassist session end'",
	"session_crashed":  "the session was archived as crashed; see 'devassist session history'",
	"cleanup_errors":   "run 'devassist cleanup --dry-run' to see what failed",
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show session and cleanup alerts",
	Long: `Check the event log for sessions that stopped sending heartbeats, sessions
running longer than the configured limit, sessions recovered after a crash and
errors in the last cleanup run.

Thresholds come from the alerts section of .devassist/config.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (the event log may be disabled)")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("checking session alerts: %w", err)
		}

		if alertsJSON {
			if alerts == nil {
				alerts = []observability.Alert{}
			}
			data, err := json.MarshalIndent(alerts, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting alerts as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts. Sessions and cleanup look healthy.")
			return nil
		}

		fmt.Printf("%d alert(s):\n\n", len(alerts))
		for _, alert := range alerts {
			severity := strings.ToUpper(string(alert.Severity))
			if style, ok := severityStyles[alert.Severity]; ok {
				severity = style.Render(severity)
			}
			fmt.Printf("  %s %s\n", severity, alert.Message)
			fmt.Printf("      since %s\n", alert.TriggeredAt.UTC().Format("2006-01-02 15:04 UTC"))
			if hint, ok := alertHints[alert.Condition]; ok {
				fmt.Printf("      %s\n", hint)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "Output alerts as JSON")
	rootCmd.AddCommand(alertsCmd)
}
