package cmd

import (
	"fmt"

	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/profile"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage core configuration profiles",
}

var configImportCmd = &cobra.Command{
	Use:   "import <name> <url-or-path>",
	Short: "Import a core config from a URL or local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := profile.Import(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Imported %s (%s)\n", args[0], path)
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Start the core with a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := profile.PathOf(args[0])
		if err != nil {
			return err
		}

		eng, err := buildEngine()
		if err != nil {
			return err
		}

		fmt.Printf("Starting core with profile %s...\n", args[0])
		if err := eng.Start(path); err != nil {
			return err
		}
		fmt.Println("Core started.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No profiles stored.")
			return nil
		}

		active := ""
		if eng, err := buildEngine(); err == nil {
			active = eng.ActiveConfigPath()
		}
		for _, n := range names {
			marker := " "
			if p, err := profile.PathOf(n); err == nil && p == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, n)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show application settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault()
		if err != nil {
			return err
		}
		fmt.Println(cfg.GetFormattedConfig())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configImportCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
