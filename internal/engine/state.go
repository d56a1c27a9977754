package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// State is the supervisor's bookkeeping that has to survive between
// invocations of the CLI.
type State struct {
	Mode            string `json:"mode,omitempty"`
	ManuallyStopped bool   `json:"manually_stopped,omitempty"`
	LegacyPID       int    `json:"legacy_pid,omitempty"`
	ConfigPath      string `json:"config_path,omitempty"`
}

// loadState reads the state file, returning a zero State when the file
// is missing or unreadable.
func loadState(path string) State {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}
	}
	return st
}

// saveState writes the state file, creating its directory if needed.
func saveState(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}
