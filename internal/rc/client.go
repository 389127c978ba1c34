package rc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to an rclone daemon's remote control API. All calls are POST
// requests with JSON bodies per the rc protocol.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// Option customizes client construction.
type Option func(*Client)

// WithAuth sets basic auth credentials for every request.
func WithAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// New constructs a client for the daemon at addr (host:port).
func New(addr string, opts ...Option) *Client {
	c := &Client{
		baseURL: "http://" + strings.TrimSuffix(addr, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the host:port the client targets.
func (c *Client) Addr() string {
	return strings.TrimPrefix(c.baseURL, "http://")
}

// CallError reports a non-2xx response from the daemon.
type CallError struct {
	Path   string
	Status int
	Body   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rc %s: status %d: %s", e.Path, e.Status, e.Body)
}

// IsJobNotFound reports whether the error is the daemon's response to
// stopping or querying a job it no longer tracks.
func IsJobNotFound(err error) bool {
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return false
	}
	return callErr.Status == http.StatusInternalServerError &&
		strings.Contains(callErr.Body, "job not found")
}

// Call performs one rc request. A nil params sends an empty JSON object; a
// nil out discards the response body.
func (c *Client) Call(ctx context.Context, path string, params any, out any) error {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode rc params: %w", err)
	}

	url := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rc %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("rc %s: read response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &CallError{
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rc %s: decode response: %w", path, err)
	}
	return nil
}

// Version returns the daemon's version and platform details.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	err := c.Call(ctx, "core/version", nil, &info)
	return info, err
}

// ConfigPaths returns the daemon's config, cache, and temp paths.
func (c *Client) ConfigPaths(ctx context.Context) (ConfigPaths, error) {
	var paths ConfigPaths
	err := c.Call(ctx, "config/paths", nil, &paths)
	return paths, err
}

// ListRemotes returns the names of configured remotes.
func (c *Client) ListRemotes(ctx context.Context) ([]string, error) {
	var resp listRemotesResponse
	if err := c.Call(ctx, "config/listremotes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Remotes, nil
}

// DumpConfig returns the full remote configuration keyed by remote name.
func (c *Client) DumpConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	configs := map[string]json.RawMessage{}
	if err := c.Call(ctx, "config/dump", nil, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// ListMounts returns the active mount points.
func (c *Client) ListMounts(ctx context.Context) ([]MountPoint, error) {
	var resp listMountsResponse
	if err := c.Call(ctx, "mount/listmounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.MountPoints, nil
}

// ListServes returns the active serve instances.
func (c *Client) ListServes(ctx context.Context) ([]Serve, error) {
	var resp listServesResponse
	if err := c.Call(ctx, "serve/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.List, nil
}

// JobStatus returns the status of an async job.
func (c *Client) JobStatus(ctx context.Context, jobID uint64) (JobStatus, error) {
	var status JobStatus
	err := c.Call(ctx, "job/status", map[string]any{"jobid": jobID}, &status)
	return status, err
}

// JobStop asks the daemon to stop an async job.
func (c *Client) JobStop(ctx context.Context, jobID uint64) error {
	return c.Call(ctx, "job/stop", map[string]any{"jobid": jobID}, nil)
}

// CoreStats returns transfer statistics, optionally scoped to a group.
func (c *Client) CoreStats(ctx context.Context, group string) (json.RawMessage, error) {
	params := map[string]any{}
	if group != "" {
		params["group"] = group
	}
	var stats json.RawMessage
	if err := c.Call(ctx, "core/stats", params, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Quit asks the daemon to exit.
func (c *Client) Quit(ctx context.Context) error {
	return c.Call(ctx, "core/quit", nil, nil)
}

// StartOperation submits an async transfer operation and returns the
// daemon-assigned job id. Kind selects the sync/* endpoint.
func (c *Client) StartOperation(ctx context.Context, kind, srcFs, dstFs, group string, args map[string]any) (uint64, error) {
	params := map[string]any{
		"srcFs":  srcFs,
		"dstFs":  dstFs,
		"_async": true,
	}
	if group != "" {
		params["_group"] = group
	}
	for key, value := range args {
		params[key] = value
	}

	var resp startJobResponse
	if err := c.Call(ctx, "sync/"+kind, params, &resp); err != nil {
		return 0, err
	}
	return resp.JobID, nil
}
