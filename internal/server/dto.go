package server

import (
	"encoding/json"

	"agdt/internal/domain"
	"agdt/internal/prompt"
	"agdt/internal/state"
	"agdt/internal/workflow"
)

// Request payloads

type StatePatchRequest struct {
	Values map[string]any `json:"values" jsonschema:"type=object,additionalProperties=true"`
}

type SubmitTaskRequest struct {
	Command string   `json:"command" example:"jira.fetch-issue"`
	Args    []string `json:"args,omitempty" example:"[\"jira.issue_key=DFLY-1234\"]"`
}

type StartWorkflowRequest struct {
	Name     string `json:"name" enum:"pull-request-review,create-jira-issue,work-on-jira-issue"`
	EntityID string `json:"entity_id,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

type AdvanceWorkflowRequest struct {
	Step      string   `json:"step"`
	Increment []string `json:"increment,omitempty"`
}

// Response payloads

type StateResponse struct {
	Values state.Values `json:"values" jsonschema:"type=object,additionalProperties=true"`
}

type StateValueResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type TaskResponse struct {
	ID         string          `json:"id"`
	Command    string          `json:"command"`
	Args       []string        `json:"args"`
	Status     string          `json:"status" enum:"pending,running,succeeded,failed"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	StartedAt  *string         `json:"started_at,omitempty" format:"date-time"`
	FinishedAt *string         `json:"finished_at,omitempty" format:"date-time"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type TaskListResponse struct {
	Items []TaskResponse `json:"items"`
}

type TaskLogResponse struct {
	ID  string `json:"id"`
	Log string `json:"log"`
}

type WorkflowDefinitionResponse struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Steps       []string            `json:"steps"`
	Transitions map[string][]string `json:"transitions"`
	Counters    []string            `json:"counters"`
}

type WorkflowResponse struct {
	Instance workflow.Instance `json:"instance"`
	Allowed  []workflow.Step   `json:"allowed"`
	Prompt   *prompt.Rendered  `json:"prompt,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.TaskRecord) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		Command:    t.Command,
		Args:       nonNilSlice(t.Args),
		Status:     string(t.Status),
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}

func definitionResponse(d *workflow.Definition) WorkflowDefinitionResponse {
	resp := WorkflowDefinitionResponse{
		Name:        d.Name,
		Description: d.Description,
		Steps:       []string{},
		Transitions: map[string][]string{},
		Counters:    nonNilSlice(d.Counters),
	}
	for _, s := range d.Steps {
		resp.Steps = append(resp.Steps, string(s))
	}
	for from, to := range d.Transitions {
		next := make([]string, 0, len(to))
		for _, s := range to {
			next = append(next, string(s))
		}
		resp.Transitions[string(from)] = next
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
