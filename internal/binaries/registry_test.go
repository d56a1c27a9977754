package binaries

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/net2share/proxyman/internal/config"
)

// isolate clears every location CorePath consults. Callers must not use
// t.Parallel because of t.Setenv.
func isolate(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("PATH", filepath.Join(tmp, "empty-path"))
	t.Setenv(CoreEnvOverride, "")
}

func TestCorePathEnvOverride(t *testing.T) {
	isolate(t)
	override := filepath.Join(t.TempDir(), "my-core")
	require.NoError(t, os.WriteFile(override, []byte("#!/bin/sh\n"), 0755))
	t.Setenv(CoreEnvOverride, override)

	p, err := CorePath()
	require.NoError(t, err)
	assert.Equal(t, override, p)
}

func TestCorePathEnvOverrideMissing(t *testing.T) {
	isolate(t)
	t.Setenv(CoreEnvOverride, filepath.Join(t.TempDir(), "absent"))

	_, err := CorePath()
	require.ErrorContains(t, err, CoreEnvOverride)
	require.ErrorContains(t, err, "points to")
}

func TestCorePathManagedDir(t *testing.T) {
	isolate(t)
	require.NoError(t, os.MkdirAll(config.BinDir(), 0750))
	managed := filepath.Join(config.BinDir(), NameCore)
	require.NoError(t, os.WriteFile(managed, []byte("#!/bin/sh\n"), 0755))

	p, err := CorePath()
	require.NoError(t, err)
	assert.Equal(t, managed, p)
}

func TestCorePathNotFound(t *testing.T) {
	isolate(t)

	_, err := CorePath()
	require.ErrorContains(t, err, "core binary not found")
	require.ErrorContains(t, err, "proxyman install")
}

func TestCoreInstalled(t *testing.T) {
	isolate(t)
	assert.False(t, CoreInstalled())

	require.NoError(t, os.MkdirAll(config.ConfigDir(), 0750))
	require.NoError(t, os.WriteFile(config.VersionsPath(), []byte("{}"), 0640))
	assert.True(t, CoreInstalled())
}

func TestDefsCoverAllNames(t *testing.T) {
	t.Parallel()
	defs := Defs()
	for _, name := range AllNames() {
		def, ok := defs[name]
		require.True(t, ok, "missing definition for %s", name)
		assert.Equal(t, name, def.Name)
		assert.NotEmpty(t, def.PinnedVersion)
		assert.NotEmpty(t, def.URLPattern)
	}
}
