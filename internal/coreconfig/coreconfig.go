// Package coreconfig reads and writes core configuration files.
package coreconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// File is the subset of the core's YAML config the manager cares about.
// Unknown keys are preserved by the core itself; we only inspect these.
type File struct {
	ExternalController string `yaml:"external-controller"`
	Secret             string `yaml:"secret"`
	Mode               string `yaml:"mode"`
	Port               int    `yaml:"port"`
	MixedPort          int    `yaml:"mixed-port"`
	TUN                struct {
		Enable bool `yaml:"enable"`
	} `yaml:"tun"`
}

// Parse decodes core config bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse core config: %w", err)
	}
	return &f, nil
}

// Load reads and decodes a core config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read core config: %w", err)
	}
	return Parse(data)
}

// Controller splits the external-controller address into host and port.
// Host-less forms like ":9090" get the loopback host. The second return is
// false when no controller is configured.
func (f *File) Controller() (string, int, bool) {
	if f.ExternalController == "" {
		return "", 0, false
	}

	host, portStr, err := net.SplitHostPort(f.ExternalController)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, false
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return host, port, true
}

// ProxyPort returns the local proxy port, preferring mixed-port.
func (f *File) ProxyPort() int {
	if f.MixedPort > 0 {
		return f.MixedPort
	}
	return f.Port
}

// Validate performs a structural sanity check on a config file.
func Validate(path string) error {
	_, err := Load(path)
	return err
}

// WriteIdle writes the minimal config that keeps a core instance alive but
// idle: controller endpoint, secret and rule mode, nothing else.
func WriteIdle(path, host string, port int, secret string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf("external-controller: %s:%d\nsecret: '%s'\nmode: rule\n", host, port, secret)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("failed to write idle config: %w", err)
	}
	return nil
}
