// Package profile stores named core configurations under the proxyman
// config directory so they can be started by name.
package profile

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/net2share/proxyman/internal/config"
	"github.com/net2share/proxyman/internal/coreconfig"
)

const (
	maxProfileSize = 10 * 1024 * 1024
	fetchTimeout   = 30 * time.Second
)

// Import fetches a core configuration from an http(s) URL or copies it
// from a local file, validates it, and stores it as <name>.yaml in the
// profiles directory. It returns the stored path.
func Import(name, source string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	var data []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetch(source)
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = fmt.Errorf("failed to read %s: %w", source, err)
		}
	}
	if err != nil {
		return "", err
	}

	if _, err := coreconfig.Parse(data); err != nil {
		return "", err
	}

	dir := config.ProfilesDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create profiles directory: %w", err)
	}
	dst := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(dst, data, 0640); err != nil {
		return "", fmt.Errorf("failed to write profile: %w", err)
	}
	return dst, nil
}

func fetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > maxProfileSize {
		return nil, fmt.Errorf("profile exceeds %d bytes", maxProfileSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded profile is empty")
	}
	return data, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid profile name: %s", name)
	}
	return nil
}

// List returns the stored profile names in sorted order.
func List() ([]string, error) {
	entries, err := os.ReadDir(config.ProfilesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PathOf returns the stored path for a profile name.
func PathOf(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(config.ProfilesDir(), name+".yaml")
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("profile not found: %s", name)
	}
	return p, nil
}
