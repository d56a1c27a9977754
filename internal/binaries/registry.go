// Package binaries defines the binary registry for proxyman.
package binaries

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/net2share/go-corelib/binman"
	"github.com/net2share/proxyman/internal/config"
)

// Binary name constants.
const (
	NameCore = "mihomo"
)

// CoreEnvOverride points the resolver at an externally managed core.
const CoreEnvOverride = "PROXYMAN_CORE_PATH"

// AllNames returns the ordered list of all managed binaries.
func AllNames() []string {
	return []string{NameCore}
}

// Defs returns the binary definitions for all managed binaries.
func Defs() map[string]binman.BinaryDef {
	return map[string]binman.BinaryDef{
		NameCore: {
			Name:          NameCore,
			EnvOverride:   CoreEnvOverride,
			URLPattern:    "https://github.com/MetaCubeX/mihomo/releases/download/{version}/mihomo-{os}-{arch}-{version}.gz",
			PinnedVersion: "v1.19.2",
			Archive:       true,
			ChecksumURL:   "https://github.com/MetaCubeX/mihomo/releases/download/{version}/checksums.sha256",
		},
	}
}

// systemPaths are common locations where binaries might be installed.
var systemPaths = []string{
	"/usr/local/bin",
	"/usr/local/sbin",
	"/usr/bin",
	"/usr/sbin",
}

// NewManager creates a binman.Manager configured for proxyman.
func NewManager() *binman.Manager {
	return binman.NewManager(config.BinDir(), binman.WithSystemPaths(systemPaths))
}

// CoreInstalled returns true if 'proxyman install' has been run.
// It checks for the version manifest file, which is created by the install handler.
func CoreInstalled() bool {
	_, err := os.Stat(config.VersionsPath())
	return err == nil
}

// CorePath resolves the core binary: the environment override wins, then
// the managed bin directory, then the system PATH.
func CorePath() (string, error) {
	if p := os.Getenv(CoreEnvOverride); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s points to %s: %w", CoreEnvOverride, p, err)
		}
		return p, nil
	}

	name := NameCore
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	managed := filepath.Join(config.BinDir(), name)
	if _, err := os.Stat(managed); err == nil {
		return managed, nil
	}

	if p, err := exec.LookPath(NameCore); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("core binary not found; run 'proxyman install' to download %s", NameCore)
}
