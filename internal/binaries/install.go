package binaries

import (
	"fmt"

	"github.com/net2share/go-corelib/binman"
	"github.com/net2share/proxyman/internal/config"
)

// Self-update release coordinates.
const (
	selfRepo       = "net2share/proxyman"
	selfURLPattern = "https://github.com/net2share/proxyman/releases/download/{version}/proxyman-{os}-{arch}"
)

// StatusFn receives one-line progress updates during installs and updates.
type StatusFn func(msg string)

// Install downloads any managed binaries that are missing and records
// their versions in the manifest. Per-binary failures are reported
// through status and the first one is returned after the loop finishes.
func Install(status StatusFn) error {
	if status == nil {
		status = func(string) {}
	}

	mgr := NewManager()
	defs := Defs()

	manifest := binman.NewManifest()

	var firstErr error
	for _, name := range AllNames() {
		def := defs[name]

		if !mgr.IsPlatformSupported(def) {
			status(fmt.Sprintf("Skipping %s (unsupported platform)", name))
			continue
		}
		if mgr.IsInstalled(def) {
			status(fmt.Sprintf("%s already installed", name))
			manifest.SetVersion(name, def.PinnedVersion)
			continue
		}

		status(fmt.Sprintf("Downloading %s...", name))
		if err := mgr.Download(def, def.PinnedVersion, nil); err != nil {
			status(fmt.Sprintf("Failed to install %s: %v", name, err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to install %s: %w", name, err)
			}
			continue
		}
		manifest.SetVersion(name, def.PinnedVersion)
		status(fmt.Sprintf("%s installed", name))
	}

	if err := manifest.Save(config.VersionsPath()); err != nil {
		status(fmt.Sprintf("Failed to save version manifest: %v", err))
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to save version manifest: %w", err)
		}
	}
	return firstErr
}

// UpdateOptions controls what Update touches.
type UpdateOptions struct {
	CheckOnly    bool
	SelfOnly     bool
	BinariesOnly bool
	AppVersion   string
}

// Update checks for newer versions of proxyman itself and the managed
// binaries, applying them unless CheckOnly is set. It reports whether
// any update was found.
func Update(opts UpdateOptions, status StatusFn) (bool, error) {
	if status == nil {
		status = func(string) {}
	}

	hasUpdates := false

	if !opts.BinariesOnly {
		status("Checking for proxyman updates...")

		latestVersion, available, err := binman.CheckSelfUpdate(selfRepo, opts.AppVersion)
		if err != nil {
			status(fmt.Sprintf("Failed to check proxyman version: %v", err))
		} else if available {
			hasUpdates = true
			status(fmt.Sprintf("proxyman update available: %s → %s", opts.AppVersion, latestVersion))

			if !opts.CheckOnly {
				err := binman.SelfUpdate(binman.SelfUpdateConfig{
					Repo:       selfRepo,
					URLPattern: selfURLPattern,
					StatusFn: func(msg string) {
						status(msg)
					},
				}, latestVersion)
				if err != nil {
					return hasUpdates, fmt.Errorf("self-update failed: %w", err)
				}
				status(fmt.Sprintf("proxyman updated to %s", latestVersion))
			}
		} else {
			status(fmt.Sprintf("proxyman is up to date (%s)", opts.AppVersion))
		}
	}

	if !opts.SelfOnly {
		status("Checking binary updates...")

		manifest, err := binman.LoadManifest(config.VersionsPath())
		if err != nil {
			status(fmt.Sprintf("Failed to load version manifest: %v", err))
			manifest = binman.NewManifest()
		}

		mgr := NewManager()
		defs := Defs()

		for _, name := range AllNames() {
			def := defs[name]
			if def.SkipUpdate {
				continue
			}

			currentVer := manifest.GetVersion(name)
			pinnedVer := def.PinnedVersion

			if binman.IsNewer(currentVer, pinnedVer) {
				hasUpdates = true
				status(fmt.Sprintf("%s: %s → %s", name, currentVer, pinnedVer))

				if !opts.CheckOnly {
					status(fmt.Sprintf("Updating %s...", name))
					if err := mgr.Download(def, pinnedVer, nil); err != nil {
						status(fmt.Sprintf("Failed to update %s: %v", name, err))
						continue
					}
					manifest.SetVersion(name, pinnedVer)
					status(fmt.Sprintf("%s updated to %s", name, pinnedVer))
				}
			} else {
				status(fmt.Sprintf("%s is up to date (%s)", name, currentVer))
			}
		}

		if !opts.CheckOnly {
			if err := manifest.Save(config.VersionsPath()); err != nil {
				status(fmt.Sprintf("Failed to save version manifest: %v", err))
			}
		}
	}

	return hasUpdates, nil
}
