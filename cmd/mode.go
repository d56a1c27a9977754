package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show or switch the supervision mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		fmt.Println(eng.Mode())
		return nil
	},
}

var modeSwitchCmd = &cobra.Command{
	Use:   "switch <user|service>",
	Short: "Switch between user and service supervision",
	Long: `Switch between user and service supervision.

User mode runs the core under a per-user daemon; it stops when the
machine reboots. Service mode hands the core to the OS service manager
so it survives logout and reboot. Service mode needs
'proxyman service install' once, with sudo.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		target := args[0]
		fmt.Printf("Switching to %s mode...\n", target)
		if err := eng.SwitchMode(target); err != nil {
			return err
		}
		fmt.Printf("Now running in %s mode.\n", target)
		return nil
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy [rule|global|direct]",
	Short: "Show or set the core's traffic mode",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			mode, err := eng.ProxyMode()
			if err != nil {
				return err
			}
			fmt.Println(mode)
			return nil
		}

		if err := eng.SetProxyMode(args[0]); err != nil {
			return err
		}
		fmt.Printf("Proxy mode set to %s.\n", args[0])
		return nil
	},
}

func init() {
	modeCmd.AddCommand(modeSwitchCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(proxyCmd)
}
