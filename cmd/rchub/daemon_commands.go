package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rchub/internal/daemon"
	"rchub/internal/daemonctl"
	"rchub/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the rchub daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the rchub daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the rchub daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, engine, and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			status, err := fetchStatus(ctx)
			if err != nil {
				return err
			}

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range buildSystemLines(ctx, status) {
				fmt.Fprintln(stdout, renderStatusLine(line.label, line.kind, line.detail, colorize))
			}

			if status == nil || !status.Running {
				return nil
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Jobs", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildJobStatusRows(status.Jobs)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No jobs tracked")
			} else {
				fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Scheduled Tasks", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Total", "Enabled", "Disabled", "Running", "Failed"},
				[][]string{{
					strconv.Itoa(status.Tasks.Total),
					strconv.Itoa(status.Tasks.Enabled),
					strconv.Itoa(status.Tasks.Disabled),
					strconv.Itoa(status.Tasks.Running),
					strconv.Itoa(status.Tasks.Failed),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-pull remotes, mounts, and serves from the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Refresh()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s: %d remotes, %d mounts, %d serves\n",
					resp.Status.ActiveBackend, resp.Status.Remotes, resp.Status.Mounts, resp.Status.Serves)
				return nil
			})
		},
	}
}

type statusLine struct {
	label  string
	kind   statusKind
	detail string
}

// fetchStatus returns nil when the daemon socket is unreachable.
func fetchStatus(ctx *commandContext) (*daemon.Status, error) {
	client, err := ctx.dialClient()
	if err != nil {
		return nil, nil
	}
	defer client.Close()
	resp, err := client.Status()
	if err != nil {
		return nil, err
	}
	return &resp.Status, nil
}

func buildSystemLines(ctx *commandContext, status *daemon.Status) []statusLine {
	if status == nil || !status.Running {
		return []statusLine{{label: "Rchub", kind: statusWarn, detail: "Not running (run `rchub start`)"}}
	}

	lines := []statusLine{
		{label: "Rchub", kind: statusOK, detail: fmt.Sprintf("Running (pid %d)", status.PID)},
		{label: "Active Backend", kind: statusOK, detail: status.ActiveBackend},
	}

	engineKind := statusOK
	switch status.EngineState {
	case "running":
	case "starting", "restarting":
		engineKind = statusWarn
	default:
		engineKind = statusError
	}
	lines = append(lines, statusLine{
		label:  "Engine",
		kind:   engineKind,
		detail: fmt.Sprintf("%s (%s)", status.EngineState, status.EngineAddr),
	})

	lines = append(lines, statusLine{
		label:  "Remotes",
		kind:   statusInfo,
		detail: fmt.Sprintf("%d remotes, %d mounts, %d serves", status.Remotes, status.Mounts, status.Serves),
	})

	if cfg := ctx.configValue(); cfg != nil {
		if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
			lines = append(lines, statusLine{label: "Notifications", kind: statusOK, detail: "Configured"})
		} else {
			lines = append(lines, statusLine{label: "Notifications", kind: statusWarn, detail: "Not configured"})
		}
	}

	if status.HistoryDBPath != "" {
		lines = append(lines, statusLine{label: "History", kind: statusOK, detail: status.HistoryDBPath})
	} else {
		lines = append(lines, statusLine{label: "History", kind: statusInfo, detail: "Disabled"})
	}

	return lines
}

func buildJobStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(stats[name])})
	}
	return rows
}
