// Package coreapi talks to the core's external controller over local HTTP.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// probeConnectTimeout and probeTimeout keep liveness probes snappy;
	// a hung controller must not stall status paths.
	probeConnectTimeout = 300 * time.Millisecond
	probeTimeout        = 800 * time.Millisecond
	// reloadTimeout bounds config mutations.
	reloadTimeout = 1500 * time.Millisecond
)

// Client is an authenticated client for one controller endpoint.
type Client struct {
	base   string
	secret string
	probe  *http.Client
	hc     *http.Client
}

// New creates a client for the controller at host:port.
func New(host string, port int, secret string) *Client {
	dialer := &net.Dialer{Timeout: probeConnectTimeout}
	return &Client{
		base:   fmt.Sprintf("http://%s:%d", host, port),
		secret: secret,
		probe: &http.Client{
			Timeout:   probeTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		hc: &http.Client{Timeout: reloadTimeout},
	}
}

// Endpoint returns the base URL this client targets.
func (c *Client) Endpoint() string {
	return c.base
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	return req, nil
}

// Version asks the core for its version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.probe.Do(req)
	if err != nil {
		return "", fmt.Errorf("core api unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("core api GET /version: %s", resp.Status)
	}

	var out struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode version response: %w", err)
	}
	return out.Version, nil
}

// Ready reports whether the controller answers a version probe.
func (c *Client) Ready(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}

// Reload points the running core at a new config file without restarting
// the process.
func (c *Client) Reload(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/configs?force=true", map[string]string{"path": path})
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("core api unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("core api PUT /configs: %s", resp.Status)
	}
	return nil
}

// Mode returns the core's proxy mode (rule, global or direct).
func (c *Client) Mode(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/configs", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("core api unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("core api GET /configs: %s", resp.Status)
	}

	var out struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode configs response: %w", err)
	}
	if out.Mode == "" {
		out.Mode = "rule"
	}
	return out.Mode, nil
}

// SetMode switches the core's proxy mode.
func (c *Client) SetMode(ctx context.Context, mode string) error {
	req, err := c.newRequest(ctx, http.MethodPatch, "/configs", map[string]string{"mode": mode})
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("core api unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("core api PATCH /configs: %s", resp.Status)
	}
	return nil
}
