package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rchub/internal/backend"
	"rchub/internal/ipc"
)

func newBackendsCommand(ctx *commandContext) *cobra.Command {
	backendsCmd := &cobra.Command{
		Use:     "backends",
		Aliases: []string{"backend"},
		Short:   "Manage rclone daemon backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackendList(cmd, ctx)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackendList(cmd, ctx)
		},
	}

	var addHost string
	var addPort int
	var addUser string
	var addPass string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a remote rclone daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				_, err := client.BackendAdd(ipc.BackendAddRequest{
					Name:     args[0],
					Host:     addHost,
					Port:     addPort,
					Username: addUser,
					Password: addPass,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backend %s registered (%s:%d)\n", args[0], addHost, addPort)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addHost, "host", "", "Remote daemon host")
	addCmd.Flags().IntVar(&addPort, "port", 0, "Remote daemon port")
	addCmd.Flags().StringVar(&addUser, "user", "", "Remote daemon username")
	addCmd.Flags().StringVar(&addPass, "pass", "", "Remote daemon password")
	_ = addCmd.MarkFlagRequired("host")
	_ = addCmd.MarkFlagRequired("port")

	var updateHost string
	var updatePort int
	var updateUser string
	var updatePass string
	updateCmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Change the connection details of a registered backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				_, err := client.BackendUpdate(ipc.BackendUpdateRequest{
					Name:     args[0],
					Host:     updateHost,
					Port:     updatePort,
					Username: updateUser,
					Password: updatePass,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backend %s updated (%s:%d)\n", args[0], updateHost, updatePort)
				return nil
			})
		},
	}
	updateCmd.Flags().StringVar(&updateHost, "host", "", "Remote daemon host")
	updateCmd.Flags().IntVar(&updatePort, "port", 0, "Remote daemon port")
	updateCmd.Flags().StringVar(&updateUser, "user", "", "Remote daemon username")
	updateCmd.Flags().StringVar(&updatePass, "pass", "", "Remote daemon password")
	_ = updateCmd.MarkFlagRequired("host")
	_ = updateCmd.MarkFlagRequired("port")

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a registered backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.BackendRemove(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backend %s removed\n", args[0])
				return nil
			})
		},
	}

	switchCmd := &cobra.Command{
		Use:   "switch <name>",
		Short: "Activate a different backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BackendSwitch(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Active backend is now %s\n", resp.Active)
				return nil
			})
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Probe all inactive backends and report their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BackendCheck()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderBackendTable("", resp.Backends))
				return nil
			})
		},
	}

	backendsCmd.AddCommand(listCmd, addCmd, updateCmd, removeCmd, switchCmd, checkCmd)
	return backendsCmd
}

func runBackendList(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.BackendList()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderBackendTable(resp.Active, resp.Backends))
		return nil
	})
}

func renderBackendTable(active string, backends []backend.Backend) string {
	rows := make([][]string, 0, len(backends))
	for _, b := range backends {
		marker := ""
		if active != "" && b.Name == active {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			b.Name,
			b.Addr(),
			orDash(b.Runtime.Status),
			orDash(b.Runtime.Version),
			yesNo(b.IsLocal),
		})
	}
	return renderTable(
		[]string{"", "Name", "Address", "Status", "Version", "Local"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
