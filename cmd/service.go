package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/net2share/proxyman/internal/binaries"
	"github.com/net2share/proxyman/internal/service"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the privileged system service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the core as a system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot(); err != nil {
			return err
		}

		corePath, err := binaries.CorePath()
		if err != nil {
			return err
		}

		ctl := service.New()
		if err := ctl.Install(corePath); err != nil {
			return err
		}

		fmt.Printf("Service installed at %s\n", ctl.UnitPath())
		fmt.Println("Switch to it with: proxyman mode switch service")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoot(); err != nil {
			return err
		}

		ctl := service.New()
		if !ctl.Installed() {
			fmt.Println("Service is not installed.")
			return nil
		}
		if err := ctl.Uninstall(); err != nil {
			return err
		}
		fmt.Println("Service removed.")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runtime.GOOS == "windows" {
			return service.ErrUnsupported
		}

		ctl := service.New()
		if !ctl.Installed() {
			fmt.Println("Service is not installed.")
			return nil
		}
		if ctl.Loaded() {
			fmt.Println("Service is active.")
		} else {
			fmt.Println("Service is installed but not active.")
		}
		fmt.Printf("Unit:   %s\n", ctl.UnitPath())
		fmt.Printf("Config: %s\n", ctl.SystemConfigPath())
		return nil
	},
}

func requireRoot() error {
	if runtime.GOOS == "windows" {
		return service.ErrUnsupported
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required; run with sudo")
	}
	return nil
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	rootCmd.AddCommand(serviceCmd)
}
