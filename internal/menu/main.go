// Package menu provides the interactive menu for proxyman.
package menu

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/net2share/go-corelib/osdetect"
	"github.com/net2share/go-corelib/tui"
	"github.com/net2share/proxyman/internal/binaries"
	"github.com/net2share/proxyman/internal/engine"
	"github.com/net2share/proxyman/internal/profile"
)

// errCancelled is returned when user cancels/backs out.
var errCancelled = errors.New("cancelled")

// Version and BuildTime are set by cmd package.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const proxymanBanner = `
    ____
   / __ \_________  _  ____  ______ ___  ____ _____
  / /_/ / ___/ __ \| |/_/ / / / __ '__ \/ __ '/ __ \
 / ____/ /  / /_/ />  </ /_/ / / / / / / /_/ / / / /
/_/   /_/   \____/_/|_|\__, /_/ /_/ /_/\__,_/_/ /_/
                      /____/
`

// PrintBanner displays the proxyman banner with version info.
func PrintBanner() {
	tui.PrintBanner(tui.BannerConfig{
		AppName:   "Proxy Manager",
		Version:   Version,
		BuildTime: BuildTime,
		ASCII:     proxymanBanner,
	})
}

// RunInteractive shows the main interactive menu.
func RunInteractive(eng *engine.Engine) error {
	PrintBanner()

	osInfo, err := osdetect.Detect()
	if err != nil {
		tui.PrintWarning("Could not detect OS: " + err.Error())
	} else {
		tui.PrintInfo(fmt.Sprintf("Detected OS: %s", osInfo.PrettyName))
	}
	tui.PrintInfo(fmt.Sprintf("Architecture: %s", osdetect.GetArch()))

	return runMainMenu(eng)
}

// buildHeader builds a one-line summary for the main menu header.
func buildHeader(eng *engine.Engine) string {
	if !binaries.CoreInstalled() {
		return "Core not installed — run Install Core first"
	}

	st := eng.Status()
	if !st.Running {
		return fmt.Sprintf("Stopped | Mode: %s", st.Mode)
	}

	summary := fmt.Sprintf("Running | Mode: %s", st.Mode)
	if st.PID > 0 {
		summary += fmt.Sprintf(" | PID: %d", st.PID)
	}
	if st.CoreVersion != "" {
		summary += " | Core: " + st.CoreVersion
	}
	if st.ConfigPath != "" {
		summary += " | Config: " + filepath.Base(st.ConfigPath)
	}
	return summary
}

func runMainMenu(eng *engine.Engine) error {
	for {
		// Pick up cores left behind by a crashed daemon before
		// rendering state.
		_, _ = eng.RecoverOrphan()

		header := buildHeader(eng)

		var options []tui.MenuOption
		if binaries.CoreInstalled() {
			if eng.IsRunning() {
				options = append(options,
					tui.MenuOption{Label: "Stop Core", Value: "stop"},
					tui.MenuOption{Label: "Restart Core", Value: "restart"},
					tui.MenuOption{Label: "Reload Config", Value: "reload"},
				)
			} else {
				options = append(options, tui.MenuOption{Label: "Start Core", Value: "start"})
			}
			options = append(options,
				tui.MenuOption{Label: "Status", Value: "status"},
				tui.MenuOption{Label: "Logs", Value: "logs"},
				tui.MenuOption{Label: "Switch Mode", Value: "mode"},
				tui.MenuOption{Label: "Proxy Mode", Value: "proxymode"},
				tui.MenuOption{Label: "Profiles →", Value: "profiles"},
				tui.MenuOption{Label: "Check Updates", Value: "update"},
			)
		} else {
			options = append(options, tui.MenuOption{Label: "Install Core", Value: "install"})
		}
		options = append(options, tui.MenuOption{Label: "Exit", Value: "exit"})

		choice, err := tui.RunMenu(tui.MenuConfig{
			Header:  header,
			Title:   "Proxy Manager",
			Options: options,
		})
		if err != nil {
			return err
		}
		if choice == "" || choice == "exit" {
			return nil
		}

		err = handleChoice(eng, choice)
		if errors.Is(err, errCancelled) {
			continue
		}
		if err != nil {
			_ = tui.ShowMessage(tui.AppMessage{Type: "error", Message: err.Error()})
		}
	}
}

func handleChoice(eng *engine.Engine, choice string) error {
	switch choice {
	case "start":
		return handleStart(eng)
	case "stop":
		return handleStop(eng)
	case "restart":
		return handleRestart(eng)
	case "reload":
		return handleReload(eng)
	case "status":
		return handleStatus(eng)
	case "logs":
		return handleLogs(eng)
	case "mode":
		return handleSwitchMode(eng)
	case "proxymode":
		return handleProxyMode(eng)
	case "profiles":
		return runProfileMenu(eng)
	case "install":
		return handleInstall()
	case "update":
		return handleUpdate()
	}
	return nil
}

func handleStart(eng *engine.Engine) error {
	pv := tui.NewProgressView("Starting Core")
	pv.AddInfo(fmt.Sprintf("Config: %s", eng.ActiveConfigPath()))
	if err := eng.Start(""); err != nil {
		pv.AddError(fmt.Sprintf("Failed to start: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess("Core started")
	pv.Done()
	return nil
}

func handleStop(eng *engine.Engine) error {
	pv := tui.NewProgressView("Stopping Core")
	if err := eng.Stop(); err != nil {
		pv.AddError(fmt.Sprintf("Failed to stop: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess("Core stopped")
	pv.Done()
	return nil
}

func handleRestart(eng *engine.Engine) error {
	pv := tui.NewProgressView("Restarting Core")
	if err := eng.Restart(); err != nil {
		pv.AddError(fmt.Sprintf("Failed to restart: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess("Core restarted")
	pv.Done()
	return nil
}

func handleReload(eng *engine.Engine) error {
	pv := tui.NewProgressView("Reloading Config")
	if err := eng.Reload(""); err != nil {
		pv.AddError(fmt.Sprintf("Failed to reload: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess("Config reloaded")
	pv.Done()
	return nil
}

func handleStatus(eng *engine.Engine) error {
	st := eng.Status()

	var b strings.Builder
	if st.Running {
		b.WriteString("State:   running\n")
	} else {
		b.WriteString("State:   stopped\n")
	}
	fmt.Fprintf(&b, "Mode:    %s\n", st.Mode)
	if st.PID > 0 {
		fmt.Fprintf(&b, "PID:     %d\n", st.PID)
	}
	if st.UptimeSecs > 0 {
		fmt.Fprintf(&b, "Uptime:  %ds\n", st.UptimeSecs)
	}
	if st.ConfigPath != "" {
		fmt.Fprintf(&b, "Config:  %s\n", st.ConfigPath)
	}
	fmt.Fprintf(&b, "API:     %s\n", st.APIEndpoint)
	if st.CoreVersion != "" {
		fmt.Fprintf(&b, "Core:    %s\n", st.CoreVersion)
	}
	if st.DaemonVersion != "" {
		fmt.Fprintf(&b, "Daemon:  %s\n", st.DaemonVersion)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Error:   %s\n", st.LastError)
	}

	return tui.ShowMessage(tui.AppMessage{Type: "info", Message: b.String()})
}

func handleLogs(eng *engine.Engine) error {
	entries, err := eng.Logs(20)
	if err != nil {
		return fmt.Errorf("failed to fetch logs: %w", err)
	}
	if len(entries) == 0 {
		return tui.ShowMessage(tui.AppMessage{Type: "info", Message: "No logs yet."})
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s [%s] %s\n", e.Timestamp, e.Level, e.Message)
	}
	return tui.ShowMessage(tui.AppMessage{Type: "info", Message: b.String()})
}

func handleSwitchMode(eng *engine.Engine) error {
	current := eng.Mode()

	choice, err := tui.RunMenu(tui.MenuConfig{
		Title:       "Switch Mode",
		Description: fmt.Sprintf("Current mode: %s", current),
		Options: []tui.MenuOption{
			{Label: "User (per-user daemon)", Value: engine.ModeUser},
			{Label: "Service (OS-managed, survives logout)", Value: engine.ModeService},
			{Label: "Back", Value: "back"},
		},
	})
	if err != nil {
		return err
	}
	if choice == "" || choice == "back" {
		return errCancelled
	}
	if choice == current {
		return tui.ShowMessage(tui.AppMessage{Type: "info", Message: "Already in " + current + " mode."})
	}

	pv := tui.NewProgressView("Switching Mode")
	pv.AddInfo(fmt.Sprintf("%s → %s", current, choice))
	if err := eng.SwitchMode(choice); err != nil {
		pv.AddError(fmt.Sprintf("Switch failed: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess(fmt.Sprintf("Now running in %s mode", choice))
	pv.Done()
	return nil
}

func handleProxyMode(eng *engine.Engine) error {
	current, err := eng.ProxyMode()
	desc := "Core not reachable"
	if err == nil {
		desc = fmt.Sprintf("Current proxy mode: %s", current)
	}

	choice, merr := tui.RunMenu(tui.MenuConfig{
		Title:       "Proxy Mode",
		Description: desc,
		Options: []tui.MenuOption{
			{Label: "Rule (route by rules)", Value: "rule"},
			{Label: "Global (route everything through proxy)", Value: "global"},
			{Label: "Direct (bypass proxy)", Value: "direct"},
			{Label: "Back", Value: "back"},
		},
	})
	if merr != nil {
		return merr
	}
	if choice == "" || choice == "back" {
		return errCancelled
	}

	if err := eng.SetProxyMode(choice); err != nil {
		return err
	}
	return tui.ShowMessage(tui.AppMessage{Type: "info", Message: "Proxy mode set to " + choice})
}

func runProfileMenu(eng *engine.Engine) error {
	for {
		names, err := profile.List()
		if err != nil {
			return err
		}

		var options []tui.MenuOption
		for _, n := range names {
			options = append(options, tui.MenuOption{Label: n, Value: "use:" + n})
		}
		options = append(options,
			tui.MenuOption{Label: "Import Profile...", Value: "import"},
			tui.MenuOption{Label: "Back", Value: "back"},
		)

		choice, err := tui.RunMenu(tui.MenuConfig{
			Title:       "Profiles",
			Description: fmt.Sprintf("%d profile(s) stored", len(names)),
			Options:     options,
		})
		if err != nil {
			return err
		}
		if choice == "" || choice == "back" {
			return errCancelled
		}

		if choice == "import" {
			if err := handleProfileImport(); err != nil && !errors.Is(err, errCancelled) {
				_ = tui.ShowMessage(tui.AppMessage{Type: "error", Message: err.Error()})
			}
			continue
		}

		name := strings.TrimPrefix(choice, "use:")
		path, err := profile.PathOf(name)
		if err != nil {
			return err
		}

		ok, err := tui.RunConfirm(tui.ConfirmConfig{
			Title:       "Use Profile",
			Description: fmt.Sprintf("Start the core with profile %q?", name),
			Default:     true,
		})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		pv := tui.NewProgressView("Starting Core")
		pv.AddInfo("Profile: " + name)
		if err := eng.Start(path); err != nil {
			pv.AddError(fmt.Sprintf("Failed to start: %v", err))
			pv.Done()
			return err
		}
		pv.AddSuccess("Core started")
		pv.Done()
		return nil
	}
}

func handleProfileImport() error {
	name, confirmed, err := tui.RunInput(tui.InputConfig{
		Title:       "Profile Name",
		Description: "Short name for the stored profile",
	})
	if err != nil {
		return err
	}
	if !confirmed || name == "" {
		return errCancelled
	}

	source, confirmed, err := tui.RunInput(tui.InputConfig{
		Title:       "Profile Source",
		Description: "http(s) URL or local file path",
	})
	if err != nil {
		return err
	}
	if !confirmed || source == "" {
		return errCancelled
	}

	pv := tui.NewProgressView("Importing Profile")
	pv.AddInfo("Fetching " + source)
	path, err := profile.Import(name, source)
	if err != nil {
		pv.AddError(fmt.Sprintf("Import failed: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess("Stored at " + path)
	pv.Done()
	return nil
}

func handleInstall() error {
	pv := tui.NewProgressView("Install Core")
	err := binaries.Install(pv.AddInfo)
	if err != nil {
		pv.AddError(fmt.Sprintf("Install failed: %v", err))
		pv.Done()
		return err
	}
	pv.AddSuccess("Core installation complete")
	pv.Done()
	return nil
}

func handleUpdate() error {
	pv := tui.NewProgressView("Check Updates")
	hasUpdates, err := binaries.Update(binaries.UpdateOptions{AppVersion: Version}, pv.AddInfo)
	if err != nil {
		pv.AddError(fmt.Sprintf("Update failed: %v", err))
		pv.Done()
		return err
	}
	if hasUpdates {
		pv.AddSuccess("Updates applied")
	} else {
		pv.AddSuccess("Everything is up to date")
	}
	pv.Done()
	return nil
}
