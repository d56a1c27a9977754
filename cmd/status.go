package cmd

import (
	"fmt"
	"os"

	"github.com/net2share/proxyman/internal/ipc"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show core status",
	Long:  "Show core status. Exits non-zero when the core is not running, so scripts can test it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		_, _ = eng.RecoverOrphan()
		st := eng.Status()

		state := "stopped"
		if st.Running {
			state = "running"
		}
		fmt.Printf("State:   %s\n", state)
		fmt.Printf("Mode:    %s\n", st.Mode)
		if st.PID > 0 {
			fmt.Printf("PID:     %d\n", st.PID)
		}
		if st.UptimeSecs > 0 {
			fmt.Printf("Uptime:  %ds\n", st.UptimeSecs)
		}
		if st.ConfigPath != "" {
			fmt.Printf("Config:  %s\n", st.ConfigPath)
		}
		fmt.Printf("API:     %s\n", st.APIEndpoint)
		if st.CoreVersion != "" {
			fmt.Printf("Core:    %s\n", st.CoreVersion)
		}
		if st.DaemonVersion != "" {
			fmt.Printf("Daemon:  %s\n", st.DaemonVersion)
		}
		if st.LastError != "" {
			fmt.Printf("Error:   %s\n", st.LastError)
		}

		if !st.Running {
			os.Exit(1)
		}
		return nil
	},
}

var logsLines int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent core logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		entries, err := eng.Logs(logsLines)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No logs.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s [%s] %s\n", e.Timestamp, e.Level, e.Message)
		}
		return nil
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the daemon's log buffer",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.ClearLogs(); err != nil {
			return err
		}
		fmt.Println("Logs cleared.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI, daemon and core versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("proxyman %s (built %s)\n", Version, BuildTime)

		if state, v := ipc.CheckDaemon(Version); state != ipc.DaemonNotRunning {
			fmt.Printf("daemon   %s\n", v)
		}

		if eng, err := buildEngine(); err == nil {
			if st := eng.Status(); st.CoreVersion != "" {
				fmt.Printf("core     %s\n", st.CoreVersion)
			}
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of entries to show")
	logsCmd.AddCommand(logsClearCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(versionCmd)
}
