package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	taskName     string
	taskSchedule string
	taskTemplate string
	taskConfig   string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a scheduled task",
	Long: `Creates a task that runs a named template on a schedule.

The schedule is natural language or raw cron:
  coco task add --name "Morning News" --schedule "daily at 9:00" \
      --template news_digest --config '{"topics":["AI"],"recipients":["a@b.c"]}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskName == "" || taskSchedule == "" || taskTemplate == "" {
			return fmt.Errorf("--name, --schedule, and --template are required")
		}
		var cfg map[string]any
		if taskConfig != "" {
			if err := json.Unmarshal([]byte(taskConfig), &cfg); err != nil {
				return fmt.Errorf("--config must be a JSON object: %w", err)
			}
		}

		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.scheduler.Create(taskName, taskSchedule, taskTemplate, cfg)
		if err != nil {
			return err
		}
		fmt.Println("created", formatTask(task))
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()
		a.printTasks()
		return nil
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm [id-prefix]",
	Short: "Delete a task (its execution history remains)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.scheduler.Remove(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("removed %s (%s)\n", task.Name, task.ID[:8])
		return nil
	},
}

var taskRunCmd = &cobra.Command{
	Use:   "run [id-prefix]",
	Short: "Fire a task immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		exec, err := a.scheduler.RunNow(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ran: status=%s\n%s\n", exec.Status, exec.OutputSummary)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.scheduler.Status()
		if err != nil {
			return err
		}
		fmt.Printf("tasks: %d (%d enabled)\n", st.Tasks, st.Enabled)
		if !st.NextRun.IsZero() {
			fmt.Println("next run:", st.NextRun.Format("2006-01-02 15:04:05"))
		}
		if len(st.Running) > 0 {
			fmt.Println("running:", st.Running)
		}
		if st.LastError != "" {
			fmt.Println("last error:", st.LastError)
		}
		return nil
	},
}

func init() {
	taskAddCmd.Flags().StringVar(&taskName, "name", "", "task name")
	taskAddCmd.Flags().StringVar(&taskSchedule, "schedule", "", `schedule, e.g. "daily at 9:00" or "*/15 * * * *"`)
	taskAddCmd.Flags().StringVar(&taskTemplate, "template", "", "template name")
	taskAddCmd.Flags().StringVar(&taskConfig, "config", "", "template config as a JSON object")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskRmCmd, taskRunCmd, taskStatusCmd)
}
