package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/core"
	"github.com/net2share/proxyman/internal/ipc"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
}

// daemonRunCmd is the hidden foreground process forked by the CLI when a
// daemon is needed.
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Log.Level),
		}))
		slog.SetDefault(logger)

		// Refuse a second daemon on the same endpoint
		if running, _ := ipc.DetectDaemon(); running {
			return fmt.Errorf("daemon is already running (endpoint: %s)", config.SocketPath())
		}

		if err := config.EnsureDirs(); err != nil {
			return fmt.Errorf("failed to create config dirs: %w", err)
		}

		collector := core.NewCollector(core.DefaultLogCapacity)
		collector.Start()
		defer collector.Stop()

		mgr := core.NewManager(collector, logger)

		srv := ipc.NewServer(config.SocketPath(), Version, mgr, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start IPC server: %w", err)
		}
		defer srv.Stop()

		logger.Info("daemon ready", "endpoint", config.SocketPath(), "version", Version)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		select {
		case s := <-sig:
			logger.Info("signal received", "signal", s.String())
			if err := mgr.StopCore(); err != nil {
				logger.Warn("failed to stop core during shutdown", "error", err)
			}
		case <-srv.ShutdownCh:
			// The handler already stopped the core; let the response
			// flush before the process exits.
			time.Sleep(100 * time.Millisecond)
		}

		logger.Info("daemon stopped")
		return nil
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, v := ipc.CheckDaemon(Version)
		switch state {
		case ipc.DaemonReady:
			fmt.Printf("Daemon already running (version %s)\n", v)
			return nil
		case ipc.DaemonNeedsUpgrade:
			fmt.Printf("Daemon running with version %s, restarting on %s...\n", v, Version)
			if err := ipc.NewDefault().Shutdown(); err != nil {
				return fmt.Errorf("failed to stop old daemon: %w", err)
			}
			time.Sleep(300 * time.Millisecond)
		}

		fmt.Println("Starting daemon...")
		if _, err := ipc.EnsureDaemon(); err != nil {
			return err
		}
		fmt.Printf("Daemon ready (endpoint: %s)\n", config.SocketPath())
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		running, client := ipc.DetectDaemon()
		if !running {
			fmt.Println("No daemon running.")
			return nil
		}

		fmt.Println("Stopping daemon...")
		if err := client.Shutdown(); err != nil {
			return err
		}
		fmt.Println("Stopped.")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, v := ipc.CheckDaemon(Version)
		if state == ipc.DaemonNotRunning {
			fmt.Println("No daemon running.")
			return nil
		}

		fmt.Printf("Daemon running (version %s)\n", v)
		if state == ipc.DaemonNeedsUpgrade {
			fmt.Printf("CLI version is %s; restart the daemon to upgrade.\n", Version)
		}

		if st, err := ipc.NewDefault().GetStatus(); err == nil {
			if st.Running {
				pid := 0
				if st.PID != nil {
					pid = int(*st.PID)
				}
				fmt.Printf("Core running (pid %d)\n", pid)
			} else {
				fmt.Println("Core stopped.")
				if st.LastError != nil {
					fmt.Printf("Last error: %s\n", *st.LastError)
				}
			}
		}
		return nil
	},
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
