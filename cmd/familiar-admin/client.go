// ABOUTME: HTTP client for the familiar ops API with SSE streaming
// ABOUTME: Loads the admin TOML config and signs or bearer-authenticates requests

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/ssh"

	"github.com/2389/familiar/internal/auth"
)

// adminConfig is the optional client config at ~/.config/familiar/admin.toml.
type adminConfig struct {
	Server serverSection `toml:"server"`
	Auth   authSection   `toml:"auth"`
}

type serverSection struct {
	URL string `toml:"url"`
}

type authSection struct {
	Token  string `toml:"token"`
	SSHKey string `toml:"ssh_key"`
}

// adminConfigPath returns the path to the admin config file.
// Priority: FAMILIAR_ADMIN_CONFIG env var > XDG_CONFIG_HOME/familiar/admin.toml > ~/.config/familiar/admin.toml
func adminConfigPath() string {
	if envPath := os.Getenv("FAMILIAR_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "familiar", "admin.toml")
}

// loadAdminConfig reads the admin config, tolerating a missing file. ${VAR}
// references expand from the environment.
func loadAdminConfig() (*adminConfig, error) {
	var cfg adminConfig

	path := adminConfigPath()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// apiClient talks to the familiar ops API. A bearer token takes precedence;
// otherwise each request is signed with the configured SSH key.
type apiClient struct {
	baseURL string
	token   string
	signer  ssh.Signer
	http    *http.Client
}

// newAPIClient assembles a client from the environment and the admin config.
// FAMILIAR_URL and FAMILIAR_TOKEN override the config file.
func newAPIClient() (*apiClient, error) {
	cfg, err := loadAdminConfig()
	if err != nil {
		return nil, err
	}

	baseURL := os.Getenv("FAMILIAR_URL")
	if baseURL == "" {
		baseURL = cfg.Server.URL
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	token := os.Getenv("FAMILIAR_TOKEN")
	if token == "" {
		token = cfg.Auth.Token
	}

	c := &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}

	if token == "" && cfg.Auth.SSHKey != "" {
		keyData, err := os.ReadFile(expandHome(cfg.Auth.SSHKey))
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key: %w", err)
		}
		c.signer = signer
	}

	return c, nil
}

// authenticate attaches credentials to an outgoing request. Key signatures
// are minted fresh per request since nonces are single use.
func (c *apiClient) authenticate(req *http.Request) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return nil
	}
	if c.signer != nil {
		signed, err := auth.Sign(c.signer)
		if err != nil {
			return fmt.Errorf("signing request: %w", err)
		}
		signed.Apply(req.Header)
	}
	return nil
}

// requestJSON performs a request and decodes the 200 response into out.
func (c *apiClient) requestJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// apiError turns a non-200 response into an error, preferring the server's
// JSON error body.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s", body.Error)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

// sendRequest is the JSON body sent to POST /api/send.
type sendRequest struct {
	ChannelID string `json:"channel_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
}

// sendMessage posts a turn and invokes onEvent for each SSE event until the
// stream ends or onEvent returns an error.
func (c *apiClient) sendMessage(ctx context.Context, req sendRequest, onEvent func(event string, data json.RawMessage) error) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if err := c.authenticate(httpReq); err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return streamSSE(ctx, resp.Body, onEvent)
}

// streamSSE parses an SSE stream, dispatching each complete event.
func streamSSE(ctx context.Context, body io.Reader, onEvent func(string, json.RawMessage) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				if err := onEvent(eventType, json.RawMessage(data)); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}
	return scanner.Err()
}

// approve records a decision for a pending permission request.
func (c *apiClient) approve(ctx context.Context, requestID string, approved bool) error {
	body := map[string]any{"request_id": requestID, "approved": approved}
	return c.requestJSON(ctx, http.MethodPost, "/api/approve", body, nil)
}

// healthInfo mirrors GET /api/health.
type healthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (c *apiClient) health(ctx context.Context) (*healthInfo, error) {
	var h healthInfo
	if err := c.requestJSON(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ready reports whether the daemon considers itself ready to take turns.
func (c *apiClient) ready(ctx context.Context) error {
	return c.requestJSON(ctx, http.MethodGet, "/api/ready", nil, nil)
}

// sessionInfo mirrors the ops API session record.
type sessionInfo struct {
	ChannelID  string    `json:"channel_id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Active     bool      `json:"active"`
}

func (c *apiClient) listSessions(ctx context.Context) ([]sessionInfo, error) {
	var resp struct {
		Sessions []sessionInfo `json:"sessions"`
	}
	if err := c.requestJSON(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *apiClient) invalidateSession(ctx context.Context, channelID string) error {
	path := "/api/sessions/" + url.PathEscape(channelID) + "/invalidate"
	return c.requestJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *apiClient) deleteSession(ctx context.Context, channelID string) error {
	path := "/api/sessions/" + url.PathEscape(channelID)
	return c.requestJSON(ctx, http.MethodDelete, path, nil, nil)
}

// memoryInfo mirrors the ops API memory record.
type memoryInfo struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Scope     string    `json:"scope"`
	Username  string    `json:"username,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// memoryQuery builds the scope/username query string shared by the memory
// endpoints.
func memoryQuery(scope, username string) string {
	v := url.Values{}
	if scope != "" {
		v.Set("scope", scope)
	}
	if username != "" {
		v.Set("username", username)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *apiClient) listMemories(ctx context.Context, scope, username string) ([]memoryInfo, error) {
	var resp struct {
		Memories []memoryInfo `json:"memories"`
	}
	path := "/api/memories" + memoryQuery(scope, username)
	if err := c.requestJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Memories, nil
}

func (c *apiClient) setMemory(ctx context.Context, key, value, scope, username string) (*memoryInfo, error) {
	body := map[string]string{"key": key, "value": value}
	if scope != "" {
		body["scope"] = scope
	}
	if username != "" {
		body["username"] = username
	}
	var saved memoryInfo
	if err := c.requestJSON(ctx, http.MethodPut, "/api/memories", body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *apiClient) deleteMemory(ctx context.Context, key, scope, username string) error {
	v := url.Values{}
	v.Set("key", key)
	if scope != "" {
		v.Set("scope", scope)
	}
	if username != "" {
		v.Set("username", username)
	}
	return c.requestJSON(ctx, http.MethodDelete, "/api/memories?"+v.Encode(), nil, nil)
}
