// Package cli wires the daemon's commands: serve (HTTP API + scheduler),
// mcp (stdio MCP server + scheduler) and tasks (definition tooling).
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// New builds the root command.
func New() *cobra.Command {
	root := &cobra.Command{
		Use:           "siegebotd",
		Short:         "Game automation bot for an Android emulator",
		Long:          "siegebotd schedules and runs automation tasks against an Android emulator:\nalliance help, daily login rewards, shield monitoring and anything else\ndefined in the tasks file.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newTasksCmd())
	return root
}
