//go:build darwin

package service

import (
	"fmt"
	"os"
	"path/filepath"
)

const corePlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>-d</string>
		<string>%s</string>
		<string>-f</string>
		<string>%s</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>%s</string>
	<key>StandardErrorPath</key>
	<string>%s</string>
</dict>
</plist>
`

type launchdController struct {
	run       Runner
	label     string
	plistPath string
	configDir string
}

func newController(run Runner) Controller {
	return &launchdController{
		run:       run,
		label:     "com.net2share.proxyman.core",
		plistPath: "/Library/LaunchDaemons/com.net2share.proxyman.core.plist",
		configDir: "/Library/Application Support/proxyman",
	}
}

func (l *launchdController) UnitPath() string {
	return l.plistPath
}

func (l *launchdController) SystemConfigPath() string {
	return filepath.Join(l.configDir, "config.yaml")
}

func (l *launchdController) Installed() bool {
	_, err := os.Stat(l.plistPath)
	return err == nil
}

func (l *launchdController) Loaded() bool {
	_, err := l.run("launchctl", "print", "system/"+l.label)
	return err == nil
}

func (l *launchdController) launchctl(args ...string) error {
	out, err := l.run("launchctl", args...)
	if err != nil {
		return fmt.Errorf("launchctl %v failed: %w: %s", args, err, out)
	}
	return nil
}

func (l *launchdController) Enable() error {
	if !l.Installed() {
		return ErrNotInstalled
	}
	if err := l.launchctl("enable", "system/"+l.label); err != nil {
		return err
	}
	// bootstrap fails when the job is already loaded; kick it instead
	if err := l.launchctl("bootstrap", "system", l.plistPath); err != nil {
		return l.launchctl("kickstart", "-k", "system/"+l.label)
	}
	return nil
}

func (l *launchdController) Disable() error {
	if err := l.launchctl("bootout", "system/"+l.label); err != nil {
		return err
	}
	return l.launchctl("disable", "system/"+l.label)
}

func (l *launchdController) Restart() error {
	return l.launchctl("kickstart", "-k", "system/"+l.label)
}

func (l *launchdController) Install(corePath string) error {
	if err := os.MkdirAll(l.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", l.configDir, err)
	}

	logPath := filepath.Join(l.configDir, "core.log")
	plist := fmt.Sprintf(corePlist, l.label, corePath, l.configDir, l.SystemConfigPath(), logPath, logPath)
	if err := os.WriteFile(l.plistPath, []byte(plist), 0644); err != nil {
		return fmt.Errorf("failed to write launchd plist: %w", err)
	}
	return nil
}

func (l *launchdController) Uninstall() error {
	// Unload first; ignore failures since the job may not be loaded
	l.run("launchctl", "bootout", "system/"+l.label)

	if err := os.Remove(l.plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove launchd plist: %w", err)
	}
	return nil
}
