package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startConfigFlag string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy core",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		path := startConfigFlag
		if path == "" {
			path = eng.ActiveConfigPath()
		}
		fmt.Printf("Starting core (config: %s)...\n", path)
		if err := eng.Start(startConfigFlag); err != nil {
			return err
		}
		fmt.Println("Core started.")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy core",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		fmt.Println("Stopping core...")
		if err := eng.Stop(); err != nil {
			return err
		}
		fmt.Println("Core stopped.")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the proxy core",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		fmt.Println("Restarting core...")
		if err := eng.Restart(); err != nil {
			return err
		}
		fmt.Println("Core restarted.")
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload [config-path]",
	Short: "Reload the core configuration without a full restart",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		if err := eng.Reload(path); err != nil {
			return err
		}
		fmt.Println("Config reloaded.")
		return nil
	},
}

func init() {
	startCmd.Flags().StringVarP(&startConfigFlag, "config", "c", "", "core config file to start with")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(reloadCmd)
}
