package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a coding agent drive the factory natively: create tracker
projects and work items, publish test plans, inspect the latest commit,
and launch containerized coding jobs. Configure with:

  {
    "mcpServers": {
      "asf": { "command": "asf", "args": ["mcp"] }
    }
  }

Available tools: asf_create_project, asf_create_work_item,
asf_create_test_plan, asf_latest_commit, asf_launch_code_job`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}

		var tracker mcp.Tracker
		if tc := newTracker(); tc != nil {
			tracker = tc
		}

		srv := mcp.NewServer(tracker, newLauncher(), st)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
