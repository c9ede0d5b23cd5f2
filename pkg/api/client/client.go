package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the workspaced API for interactive tools.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token used on authenticated calls.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4100"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: %s (status %d)", e.Message, e.Status)
}

// LoginResult carries the token issued for a user.
type LoginResult struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	payload := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkspaceInfo describes the user's container after a start call.
type WorkspaceInfo struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	State         string `json:"state"`
}

// StartWorkspace ensures the caller's workspace container is running.
func (c *Client) StartWorkspace(ctx context.Context) (*WorkspaceInfo, error) {
	var out WorkspaceInfo
	if err := c.do(ctx, http.MethodPost, "/v1/workspace/start", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopWorkspace gracefully stops the caller's container.
func (c *Client) StopWorkspace(ctx context.Context, timeoutSeconds int) (bool, error) {
	var out struct {
		Stopped bool `json:"stopped"`
	}
	payload := map[string]int{"timeout_seconds": timeoutSeconds}
	if err := c.do(ctx, http.MethodPost, "/v1/workspace/stop", payload, &out); err != nil {
		return false, err
	}
	return out.Stopped, nil
}

// RemoveWorkspace deletes the caller's container. User data survives.
func (c *Client) RemoveWorkspace(ctx context.Context, force bool) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	payload := map[string]bool{"force": force}
	if err := c.do(ctx, http.MethodPost, "/v1/workspace/remove", payload, &out); err != nil {
		return false, err
	}
	return out.Removed, nil
}

// ExecResult carries a command's exit code and combined output.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// ExecWorkspace runs a command inside the caller's workspace.
func (c *Client) ExecWorkspace(ctx context.Context, command, workdir string) (*ExecResult, error) {
	var out ExecResult
	payload := map[string]string{"command": command, "workdir": workdir}
	if err := c.do(ctx, http.MethodPost, "/v1/workspace/exec", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkspaceStatus describes the live container state.
type WorkspaceStatus struct {
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	State         string    `json:"state"`
	Image         string    `json:"image"`
	CreatedAt     time.Time `json:"created_at"`
}

// GetWorkspaceStatus queries the live container state; nil when absent.
func (c *Client) GetWorkspaceStatus(ctx context.Context) (*WorkspaceStatus, error) {
	var out WorkspaceStatus
	err := c.do(ctx, http.MethodGet, "/v1/workspace/status", nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// IdleWorkspace is one entry from the idle listing.
type IdleWorkspace struct {
	UserID         string     `json:"user_id"`
	ContainerID    string     `json:"container_id"`
	ContainerName  string     `json:"container_name"`
	LastActivityAt *time.Time `json:"last_activity_at"`
}

// ListIdleWorkspaces returns workspaces idle for at least the given minutes.
func (c *Client) ListIdleWorkspaces(ctx context.Context, minutes int) ([]IdleWorkspace, error) {
	var out struct {
		Idle []IdleWorkspace `json:"idle"`
	}
	path := "/v1/workspaces/idle?minutes=" + strconv.Itoa(minutes)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Idle, nil
}

// CleanupIdleWorkspaces stops idle workspaces and reports how many stopped.
func (c *Client) CleanupIdleWorkspaces(ctx context.Context, minutes int) (int, error) {
	var out struct {
		Stopped int `json:"stopped"`
	}
	payload := map[string]int{"minutes": minutes}
	if err := c.do(ctx, http.MethodPost, "/v1/workspaces/cleanup", payload, &out); err != nil {
		return 0, err
	}
	return out.Stopped, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
