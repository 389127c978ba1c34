package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rchub/internal/ipc"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Manage cron-scheduled transfer tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd, ctx)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks on the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd, ctx)
		},
	}

	toggleCmd := &cobra.Command{
		Use:   "toggle <task-id>",
		Short: "Enable or disable a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskToggle(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", resp.ID, resp.Status)
				return nil
			})
		},
	}

	tasksCmd.AddCommand(listCmd, toggleCmd)
	return tasksCmd
}

func runTaskList(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.TaskList()
		if err != nil {
			return err
		}
		if len(resp.Tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No scheduled tasks")
			return nil
		}
		rows := make([][]string, 0, len(resp.Tasks))
		for _, task := range resp.Tasks {
			runs := strconv.Itoa(task.RunCount)
			if task.RunCount > 0 {
				runs = fmt.Sprintf("%d (%d ok)", task.RunCount, task.SuccessCount)
			}
			rows = append(rows, []string{
				task.ID,
				string(task.Type),
				task.CronExpression,
				string(task.Status),
				formatTimestamp(task.LastRun),
				formatTimestamp(task.NextRun),
				runs,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "Type", "Cron", "Status", "Last Run", "Next Run", "Runs"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
		))
		return nil
	})
}

func newCronCommand(ctx *commandContext) *cobra.Command {
	cronCmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron expression utilities",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <expression>",
		Short: "Validate a cron expression and show its next run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CronValidate(args[0])
				if err != nil {
					return err
				}
				if !resp.Valid {
					return fmt.Errorf("invalid cron expression: %s", resp.Error)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Valid; next run at %s\n", formatTimestamp(resp.NextRun))
				return nil
			})
		},
	}

	cronCmd.AddCommand(validateCmd)
	return cronCmd
}
