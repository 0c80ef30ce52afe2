// commands.go contains the cobra command definitions. Each builder wires
// a command's flags to a handler that loads the app from --config and
// drives one of the Agent Runtime, Task Manager, or Scheduler.
package main

import (
	"fmt"
	"time"

	"github.com/sschepis/oboto/internal/scheduler"
	"github.com/spf13/cobra"
)

// buildRunCmd runs a single request to completion and prints the result.
func buildRunCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run a single request through the agent loop to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			resp, err := a.runtime.RunQuery(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	return cmd
}

// buildTaskCmd groups the background-task subcommands.
func buildTaskCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage background tasks",
	}
	cmd.AddCommand(
		buildTaskSpawnCmd(configPath),
		buildTaskListCmd(configPath),
		buildTaskGetCmd(configPath),
		buildTaskCancelCmd(configPath),
	)
	return cmd
}

func buildTaskSpawnCmd(configPath *string) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "spawn <query>",
		Short: "Spawn a background task running the agent loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			rec := a.tasks.Spawn(cmd.Context(), description, args[0], "", 0, a.runtime.TaskRunner(args[0]))
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "human-readable description of the task")
	return cmd
}

func buildTaskListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unread completed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			for _, rec := range a.tasks.GetCompletedUnread() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", rec.ID, rec.Status, rec.Description)
			}
			return nil
		},
	}
}

func buildTaskGetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task's current status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			rec, ok := a.tasks.Get(args[0])
			if !ok {
				return fmt.Errorf("task not found: %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nprogress: %d\nresult: %s\n", rec.Status, rec.Progress, rec.Result)
			return nil
		},
	}
}

func buildTaskCancelCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			if !a.tasks.Cancel(args[0]) {
				return fmt.Errorf("task not cancellable (not found or already terminal): %s", args[0])
			}
			return nil
		},
	}
}

// buildScheduleCmd groups the recurring-schedule subcommands.
func buildScheduleCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring schedules",
	}
	cmd.AddCommand(
		buildScheduleCreateCmd(configPath),
		buildSchedulePauseCmd(configPath),
		buildScheduleResumeCmd(configPath),
		buildScheduleDeleteCmd(configPath),
	)
	return cmd
}

func buildScheduleCreateCmd(configPath *string) *cobra.Command {
	var (
		name          string
		description   string
		interval      time.Duration
		maxRuns       int
		skipIfRunning bool
	)
	cmd := &cobra.Command{
		Use:   "create <query>",
		Short: "Register a recurring schedule firing the agent loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			rec, err := a.scheduler.Create(scheduler.Record{
				Name:          name,
				Description:   description,
				Query:         args[0],
				IntervalMs:    interval.Milliseconds(),
				MaxRuns:       maxRuns,
				SkipIfRunning: skipIfRunning,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "schedule name")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "firing interval, minimum 1s")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "stop after this many runs (0 = infinite)")
	cmd.Flags().BoolVar(&skipIfRunning, "skip-if-running", true, "skip a firing if the previous run is still going")
	return cmd
}

func buildSchedulePauseCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause an active schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return a.scheduler.Pause(args[0])
		},
	}
}

func buildScheduleResumeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return a.scheduler.Resume(args[0])
		},
	}
}

func buildScheduleDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return a.scheduler.Delete(args[0])
		},
	}
}
