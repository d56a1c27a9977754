//go:build linux

package service

import (
	"fmt"
	"os"
	"path/filepath"
)

const coreUnit = `[Unit]
Description=Proxyman Core
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s -d %s -f %s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

type systemdController struct {
	run       Runner
	unitName  string
	unitPath  string
	configDir string
}

func newController(run Runner) Controller {
	return &systemdController{
		run:       run,
		unitName:  "proxyman-core.service",
		unitPath:  "/etc/systemd/system/proxyman-core.service",
		configDir: "/etc/proxyman",
	}
}

func (s *systemdController) UnitPath() string {
	return s.unitPath
}

func (s *systemdController) SystemConfigPath() string {
	return filepath.Join(s.configDir, "config.yaml")
}

func (s *systemdController) Installed() bool {
	_, err := os.Stat(s.unitPath)
	return err == nil
}

func (s *systemdController) Loaded() bool {
	_, err := s.run("systemctl", "is-active", "--quiet", s.unitName)
	return err == nil
}

func (s *systemdController) systemctl(args ...string) error {
	out, err := s.run("systemctl", args...)
	if err != nil {
		return fmt.Errorf("systemctl %v failed: %w: %s", args, err, out)
	}
	return nil
}

func (s *systemdController) Enable() error {
	if !s.Installed() {
		return ErrNotInstalled
	}
	if err := s.systemctl("enable", s.unitName); err != nil {
		return err
	}
	return s.systemctl("start", s.unitName)
}

func (s *systemdController) Disable() error {
	if err := s.systemctl("stop", s.unitName); err != nil {
		return err
	}
	return s.systemctl("disable", s.unitName)
}

func (s *systemdController) Restart() error {
	return s.systemctl("restart", s.unitName)
}

func (s *systemdController) Install(corePath string) error {
	if err := os.MkdirAll(s.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.configDir, err)
	}

	unit := fmt.Sprintf(coreUnit, corePath, s.configDir, s.SystemConfigPath())
	if err := os.WriteFile(s.unitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	if err := s.systemctl("daemon-reload"); err != nil {
		return err
	}
	return s.systemctl("enable", s.unitName)
}

func (s *systemdController) Uninstall() error {
	// Stop and disable; ignore failures since the unit may not be active
	s.run("systemctl", "stop", s.unitName)
	s.run("systemctl", "disable", s.unitName)

	if err := os.Remove(s.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}

	return s.systemctl("daemon-reload")
}
