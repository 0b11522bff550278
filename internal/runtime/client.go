// ABOUTME: HTTP client for the model runtime's session API
// ABOUTME: Manages session lifecycle and streams turn events over SSE

package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrSessionNotFound indicates the runtime no longer knows the session id.
var ErrSessionNotFound = errors.New("runtime session not found")

// SessionConfig is the body for session creation.
type SessionConfig struct {
	Workdir      string `json:"workdir,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// TurnRequest is the body for issuing a turn. Context carries the assembled
// conversational context; AllowedTools carries the current tool configuration
// so a resumed session picks up config changes on its next turn.
type TurnRequest struct {
	Prompt       string   `json:"prompt"`
	Context      string   `json:"context,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the model runtime's HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a runtime client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (c *Client) sessionURL(id string, parts ...string) string {
	u := c.baseURL + "/v1/sessions/" + url.PathEscape(id)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// CreateSession creates a session under the caller-chosen id. Creating an id
// that already exists is not an error.
func (c *Client) CreateSession(ctx context.Context, id string, cfg SessionConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling session config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.sessionURL(id), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.errorFromResponse(resp)
	}
	return nil
}

// ProbeSession reports whether the session is still live on the runtime.
// Returns ErrSessionNotFound when the runtime has dropped it.
func (c *Client) ProbeSession(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL(id), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrSessionNotFound
	default:
		return fmt.Errorf("probing session: runtime returned status %d", resp.StatusCode)
	}
}

// DestroySession removes the session from the runtime. A session that is
// already gone counts as destroyed.
func (c *Client) DestroySession(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.sessionURL(id), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("destroying session: runtime returned status %d", resp.StatusCode)
	}
}

// AnswerPermission resolves a pending permission request on the runtime side.
func (c *Client) AnswerPermission(ctx context.Context, sessionID, requestID string, allow bool) error {
	body, err := json.Marshal(map[string]bool{"allow": allow})
	if err != nil {
		return fmt.Errorf("marshaling answer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.sessionURL(sessionID, "permissions", url.PathEscape(requestID)), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("answering permission: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.errorFromResponse(resp)
	}
	return nil
}

// Turn issues a turn and streams events through onEvent until the stream
// ends. Returns the final text carried by the done event. The caller bounds
// the turn with the context deadline.
func (c *Client) Turn(ctx context.Context, sessionID string, turn TurnRequest, onEvent func(Event)) (string, error) {
	body, err := json.Marshal(turn)
	if err != nil {
		return "", fmt.Errorf("marshaling turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.sessionURL(sessionID, "turns"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("issuing turn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return "", ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.errorFromResponse(resp)
	}

	return parseEventStream(ctx, resp.Body, onEvent)
}

// errorFromResponse extracts an error from a non-200 response body.
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			return fmt.Errorf("runtime error (%d): %s", resp.StatusCode, eb.Error)
		}
	}
	return fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(body))
}

// parseEventStream reads SSE frames from body and dispatches them.
func parseEventStream(ctx context.Context, body io.Reader, onEvent func(Event)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType EventType
	var dataLines []string
	var finalText string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return finalText, ctx.Err()
		default:
		}

		line := scanner.Text()

		// Blank line ends the frame
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				event := Event{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}

				if eventType == EventDone {
					var done DoneEvent
					if json.Unmarshal([]byte(event.Data), &done) == nil {
						finalText = done.FullText
					}
				}

				if eventType == EventError {
					var ee ErrorEvent
					if json.Unmarshal([]byte(event.Data), &ee) == nil && ee.Error != "" {
						return "", fmt.Errorf("runtime turn failed: %s", ee.Error)
					}
					return "", errors.New("runtime turn failed")
				}

				if onEvent != nil {
					onEvent(event)
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return finalText, fmt.Errorf("reading event stream: %w", err)
	}

	return finalText, nil
}
