package cmd

import (
	"fmt"

	"github.com/net2share/proxyman/internal/binaries"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download and install the proxy core",
	RunE: func(cmd *cobra.Command, args []string) error {
		return binaries.Install(func(msg string) { fmt.Println(msg) })
	},
}

var (
	updateCheck    bool
	updateSelf     bool
	updateBinaries bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and apply updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		hasUpdates, err := binaries.Update(binaries.UpdateOptions{
			CheckOnly:    updateCheck,
			SelfOnly:     updateSelf,
			BinariesOnly: updateBinaries,
			AppVersion:   Version,
		}, func(msg string) { fmt.Println(msg) })
		if err != nil {
			return err
		}
		if hasUpdates && updateCheck {
			fmt.Println("Run 'proxyman update' to apply updates")
			return nil
		}

		// A running core keeps the old binary until it is restarted.
		if hasUpdates && !updateSelf {
			if eng, err := buildEngine(); err == nil && eng.IsRunning() {
				fmt.Println("Restarting core on the updated binary...")
				if err := eng.Restart(); err != nil {
					return fmt.Errorf("core updated but restart failed: %w", err)
				}
				fmt.Println("Core restarted.")
			}
		}
		return nil
	},
}

func init() {
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "only check, do not apply")
	updateCmd.Flags().BoolVar(&updateSelf, "self", false, "only update proxyman itself")
	updateCmd.Flags().BoolVar(&updateBinaries, "binaries", false, "only update managed binaries")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(updateCmd)
}
