package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"rchub/internal/ipc"
	"rchub/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Manage transfer jobs on the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(cmd, ctx)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(cmd, ctx)
		},
	}

	var submitRemote string
	var submitProfile string
	var submitFilter string
	submitCmd := &cobra.Command{
		Use:   "submit <kind> <source> <destination>",
		Short: "Start a sync, copy, move, or bisync transfer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				req := ipc.JobSubmitRequest{
					Kind:        args[0],
					Source:      args[1],
					Destination: args[2],
					Remote:      submitRemote,
					Profile:     submitProfile,
				}
				if submitFilter != "" {
					var filter map[string]any
					if err := json.Unmarshal([]byte(submitFilter), &filter); err != nil {
						return fmt.Errorf("parse --filter: %w", err)
					}
					req.Args = map[string]any{"_filter": filter}
				}
				resp, err := client.JobSubmit(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d started\n", resp.JobID)
				return nil
			})
		},
	}
	submitCmd.Flags().StringVar(&submitRemote, "remote", "", "Remote the transfer belongs to")
	submitCmd.Flags().StringVar(&submitProfile, "profile", "", "Profile label recorded with the job")
	submitCmd.Flags().StringVar(&submitFilter, "filter", "", "Filter rules as a JSON object")

	stopCmd := &cobra.Command{
		Use:   "stop <jobid>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.JobStop(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d stopped\n", id)
				return nil
			})
		},
	}

	var historyBackend string
	var historyRemote string
	var historyStatus string
	var historyLimit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded terminal jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobHistory(ipc.JobHistoryRequest{
					Backend: historyBackend,
					Remote:  historyRemote,
					Status:  historyStatus,
					Limit:   historyLimit,
				})
				if err != nil {
					return err
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No history recorded")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(resp.Jobs, true))
				return nil
			})
		},
	}
	historyCmd.Flags().StringVar(&historyBackend, "backend", "", "Filter by backend name")
	historyCmd.Flags().StringVar(&historyRemote, "remote", "", "Filter by remote name")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by terminal status")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum rows to return")

	jobsCmd.AddCommand(listCmd, submitCmd, stopCmd, historyCmd)
	return jobsCmd
}

func runJobList(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.JobList()
		if err != nil {
			return err
		}
		if len(resp.Jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs tracked")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(resp.Jobs, false))
		return nil
	})
}

func renderJobTable(list []jobs.Job, withBackend bool) string {
	headers := []string{"ID", "Kind", "Source", "Destination", "Status", "Started", "Duration"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
	if withBackend {
		headers = append([]string{"Backend"}, headers...)
		aligns = append([]columnAlignment{alignLeft}, aligns...)
	}

	rows := make([][]string, 0, len(list))
	for _, job := range list {
		row := []string{
			strconv.FormatUint(job.ID, 10),
			job.Kind,
			job.Source,
			job.Destination,
			string(job.Status),
			formatTimestamp(job.StartedAt),
			formatJobDuration(job),
		}
		if withBackend {
			row = append([]string{job.Backend}, row...)
		}
		rows = append(rows, row)
	}
	return renderTable(headers, rows, aligns)
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func formatJobDuration(job jobs.Job) string {
	if job.StartedAt.IsZero() {
		return "-"
	}
	end := job.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(job.StartedAt).Round(time.Second).String()
}
