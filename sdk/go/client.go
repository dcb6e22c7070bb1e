package sidekicksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sidekick HTTP API client for companion devices.
type Client struct {
	BaseURL     string
	DeviceID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		DeviceID: deviceID,
		Timeout:  10 * time.Second,
	}
}

// Intent is the structured classification of one command.
type Intent struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Action  string `json:"action,omitempty"`
	Value   *int   `json:"value,omitempty"`
	RawText string `json:"raw_text,omitempty"`
}

// Action is one unit of dispatchable device work.
type Action struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Target    string         `json:"target"`
	Action    string         `json:"action,omitempty"`
	Value     *int           `json:"value,omitempty"`
	Status    string         `json:"status"`
	DeviceID  string         `json:"device_id,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// Interaction is one transcript entry.
type Interaction struct {
	ID        string  `json:"id"`
	Role      string  `json:"role"`
	Text      string  `json:"text"`
	Intent    *Intent `json:"intent,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// EmotionState is one mood journal entry.
type EmotionState struct {
	ID        string `json:"id,omitempty"`
	Mood      string `json:"mood"`
	Arousal   int    `json:"arousal"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Parse classifies text without recording it.
func (c *Client) Parse(ctx context.Context, text string) (Intent, error) {
	var resp Intent
	err := c.do(ctx, http.MethodPost, "v0/parse", map[string]any{"text": text}, &resp)
	return resp, err
}

// RecordInteraction stores a transcript entry. When the server classifies the
// text as an actionable command, the enqueued action comes back alongside it.
func (c *Client) RecordInteraction(ctx context.Context, role, text string) (Interaction, *Action, error) {
	var resp struct {
		Interaction Interaction `json:"interaction"`
		Action      *Action     `json:"action"`
	}
	body := map[string]any{"role": role, "text": text}
	err := c.do(ctx, http.MethodPost, "v0/interactions", body, &resp)
	return resp.Interaction, resp.Action, err
}

// SetEmotion records a mood journal entry.
func (c *Client) SetEmotion(ctx context.Context, mood string, arousal int, notes string) (EmotionState, error) {
	body := map[string]any{"mood": mood, "arousal": arousal}
	if notes != "" {
		body["notes"] = notes
	}
	var resp EmotionState
	err := c.do(ctx, http.MethodPost, "v0/emotions", body, &resp)
	return resp, err
}

// LatestEmotion returns the most recent mood journal entry.
func (c *Client) LatestEmotion(ctx context.Context) (EmotionState, error) {
	var resp EmotionState
	err := c.do(ctx, http.MethodGet, "v0/emotions/latest", nil, &resp)
	return resp, err
}

// NextAction claims the oldest pending action for this device. A nil action
// means the queue is empty; poll again later.
func (c *Client) NextAction(ctx context.Context) (*Action, error) {
	var resp struct {
		Action *Action `json:"action"`
	}
	err := c.do(ctx, http.MethodPost, "v0/actions/next", map[string]any{"device_id": c.DeviceID}, &resp)
	return resp.Action, err
}

// CompleteAction reports a claimed action's terminal status with an optional
// result payload.
func (c *Client) CompleteAction(ctx context.Context, actionID, status string, result map[string]any) (Action, error) {
	body := map[string]any{"status": status}
	if result != nil {
		body["result"] = result
	}
	var resp Action
	endpoint := fmt.Sprintf("v0/actions/%s/complete", url.PathEscape(actionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetAction fetches an action by id.
func (c *Client) GetAction(ctx context.Context, actionID string) (Action, error) {
	var resp Action
	endpoint := fmt.Sprintf("v0/actions/%s", url.PathEscape(actionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListActions returns actions filtered by status, most recent first.
func (c *Client) ListActions(ctx context.Context, status string, limit int) ([]Action, error) {
	var resp struct {
		Items []Action `json:"items"`
	}
	endpoint := "v0/actions"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DevLogin mints a device JWT against a dev server and stores it on the
// client for subsequent calls.
func (c *Client) DevLogin(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"device_id": c.DeviceID}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.DeviceID != "":
		req.Header.Set("X-Device-Id", c.DeviceID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
