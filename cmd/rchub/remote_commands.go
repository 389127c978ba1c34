package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rchub/internal/ipc"
)

func newRemotesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remotes",
		Short: "List remotes configured on the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RemoteList()
				if err != nil {
					return err
				}
				if len(resp.Remotes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No remotes configured")
					return nil
				}
				for _, remote := range resp.Remotes {
					fmt.Fprintln(cmd.OutOrStdout(), remote)
				}
				return nil
			})
		},
	}
}

func newMountsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mounts",
		Short: "List active mounts on the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.MountList()
				if err != nil {
					return err
				}
				if len(resp.Mounts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No active mounts")
					return nil
				}
				rows := make([][]string, 0, len(resp.Mounts))
				for _, mount := range resp.Mounts {
					rows = append(rows, []string{mount.Fs, mount.MountPoint, orDash(mount.Profile)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Remote", "Mount Point", "Profile"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newServesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serves",
		Short: "List active serve instances on the active backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ServeList()
				if err != nil {
					return err
				}
				if len(resp.Serves) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No active serves")
					return nil
				}
				rows := make([][]string, 0, len(resp.Serves))
				for _, serve := range resp.Serves {
					rows = append(rows, []string{serve.ID, serve.Addr, orDash(serve.Profile)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Address", "Profile"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}
