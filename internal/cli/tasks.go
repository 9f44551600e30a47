package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"siegebot/internal/config"
	"siegebot/internal/tasks"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect task definitions",
	}
	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksKindsCmd())
	return cmd
}

// newTasksListCmd validates the tasks file and prints what would be
// registered, without touching the device or the store.
func newTasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Validate the tasks file and list its definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			defs, _, err := config.LoadTasks(cfg.TasksFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d tasks in %s:\n", len(defs), cfg.TasksFile)
			for _, def := range defs {
				cc := def.CoreConfig()
				schedule := cc.Interval().String()
				if cc.Cron != "" {
					schedule = "cron " + cc.Cron
				}
				window := ""
				if cc.StartTime != "" || cc.EndTime != "" {
					window = fmt.Sprintf(" window=%s-%s", cc.StartTime, cc.EndTime)
				}
				fmt.Fprintf(out, "  %-16s kind=%-14s enabled=%-5t priority=%d every %s%s\n",
					def.ID, def.Kind, cc.Enabled, cc.Priority, schedule, window)
			}
			return nil
		},
	}
}

func newTasksKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the task kinds this build supports",
		Run: func(cmd *cobra.Command, args []string) {
			for _, kind := range tasks.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), kind)
			}
		},
	}
}
