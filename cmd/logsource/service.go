package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modoterra/logsource/pkg/daemon/service"
	"github.com/modoterra/logsource/pkg/providers/systemd"
)

var serviceManifest string

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the logsourced systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable and start the user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Install(serviceManifest); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", service.UnitName)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", service.UnitName)
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show socket and user service state",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(cmd.Context(), socketPath, systemd.UserBus))
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceManifest, "manifest", "", "manifest passed to logsourced")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
