package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	dvmcp "github.com/valter-silva-au/devassist/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the devassist MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the devassist MCP server on stdio",
	Long: `Start the devassist MCP server on stdio transport.

The server exposes sessions, knowledge and cleanup as MCP tools that AI
coding assistants can call: session_start, session_checkpoint, session_end,
session_status, knowledge_record, knowledge_search, knowledge_stats,
cleanup_run, get_metrics, get_alerts.

A session started through the server lives as long as the server process and
records heartbeats while it runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sessions == nil || KnowledgeMgr == nil {
			return fmt.Errorf("session manager not initialized")
		}

		limit, minSim := searchDefaults()
		srv := dvmcp.NewServer(Sessions, KnowledgeMgr,
			dvmcp.SearchDefaults{Limit: limit, MinSimilarity: minSim},
			MetricsCalc, AlertEngine, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
