// Package agdtsdk is a small client for the agdt serve HTTP API.
package agdtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one agdt server.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	APIKey      string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Task is a background action record.
type Task struct {
	ID         string          `json:"id"`
	Command    string          `json:"command"`
	Args       []string        `json:"args"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	StartedAt  *string         `json:"started_at,omitempty"`
	FinishedAt *string         `json:"finished_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Terminal reports whether the task has finished.
func (t Task) Terminal() bool { return t.Status == "succeeded" || t.Status == "failed" }

// Workflow is the active workflow with its rendered prompt.
type Workflow struct {
	Instance struct {
		ID        string         `json:"id"`
		Workflow  string         `json:"workflow"`
		Step      string         `json:"step"`
		EntityID  string         `json:"entity_id,omitempty"`
		Counters  map[string]int `json:"counters"`
		StartedAt string         `json:"started_at"`
		UpdatedAt string         `json:"updated_at"`
	} `json:"instance"`
	Allowed []string `json:"allowed"`
	Prompt  *Prompt  `json:"prompt,omitempty"`
}

type Prompt struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	Missing []string `json:"missing"`
}

// Event represents a ledger entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// State returns every state key.
func (c *Client) State(ctx context.Context) (map[string]any, error) {
	var resp struct {
		Values map[string]any `json:"values"`
	}
	err := c.do(ctx, http.MethodGet, "state", nil, &resp)
	return resp.Values, err
}

// SetState stores values in one locked update.
func (c *Client) SetState(ctx context.Context, values map[string]any) error {
	return c.do(ctx, http.MethodPatch, "state", map[string]any{"values": values}, nil)
}

// SubmitTask queues an action; args may carry key=value overrides.
func (c *Client) SubmitTask(ctx context.Context, command string, args ...string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", map[string]any{"command": command, "args": args}, &resp)
	return resp, err
}

// Task fetches a task record, including its result once it succeeded.
func (c *Client) Task(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// TaskLog returns the last tail lines of a task log, or all of it when tail is 0.
func (c *Client) TaskLog(ctx context.Context, id string, tail int) (string, error) {
	endpoint := "tasks/" + url.PathEscape(id) + "/log"
	if tail > 0 {
		endpoint += "?tail=" + strconv.Itoa(tail)
	}
	var resp struct {
		Log string `json:"log"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Log, err
}

// WaitTask polls until the task is terminal or ctx is done.
func (c *Client) WaitTask(ctx context.Context, id string, poll time.Duration) (Task, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		t, err := c.Task(ctx, id)
		if err != nil || t.Terminal() {
			return t, err
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Workflow returns the active workflow.
func (c *Client) Workflow(ctx context.Context) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, "workflow", nil, &resp)
	return resp, err
}

// StartWorkflow starts a workflow by name.
func (c *Client) StartWorkflow(ctx context.Context, name, entityID string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "workflow", map[string]any{"name": name, "entity_id": entityID}, &resp)
	return resp, err
}

// AdvanceWorkflow moves the active workflow to step.
func (c *Client) AdvanceWorkflow(ctx context.Context, step string, increment ...string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "workflow/advance", map[string]any{"step": step, "increment": increment}, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
