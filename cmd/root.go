// Package cmd provides the Cobra CLI for proxyman.
package cmd

import (
	"fmt"
	"os"

	"github.com/net2share/go-corelib/tui"
	"github.com/net2share/proxyman/internal/binaries"
	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/engine"
	"github.com/net2share/proxyman/internal/ipc"
	"github.com/net2share/proxyman/internal/menu"
	"github.com/net2share/proxyman/internal/service"
	"github.com/spf13/cobra"
)

// Version and BuildTime are set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "proxyman",
	Short: "Proxy core manager",
	Long:  "Proxy core manager - https://github.com/net2share/proxyman",
	RunE: func(cmd *cobra.Command, args []string) error {
		menu.Version = Version
		menu.BuildTime = BuildTime
		tui.SetAppInfo("proxyman", Version, BuildTime)
		tui.BeginSession()
		defer tui.EndSession()

		eng, err := buildEngine()
		if err != nil {
			return err
		}
		return menu.RunInteractive(eng)
	},
}

// buildEngine wires an engine with its production collaborators.
func buildEngine() (*engine.Engine, error) {
	cfg, err := config.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return engine.New(engine.Deps{
		Settings: cfg,
		Daemon:   ipc.NewDefault(),
		Ensure: func() error {
			_, err := ipc.EnsureDaemon()
			return err
		},
		Service:  service.New(),
		CorePath: binaries.CorePath,
	}), nil
}

func init() {
	rootCmd.Version = Version
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersionInfo sets version information for the CLI.
func SetVersionInfo(version, buildTime string) {
	Version = version
	BuildTime = buildTime
	rootCmd.Version = version + " (built " + buildTime + ")"
}
