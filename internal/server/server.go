// Package server exposes the workspace state, task queue and workflow over
// an HTTP API for editors and agents that cannot shell out to agdt.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"agdt/internal/app"
	"agdt/internal/domain"
	"agdt/internal/errs"
	"agdt/internal/prompt"
	"agdt/internal/repo"
	"agdt/internal/state"
	"agdt/internal/tasks"
	"agdt/internal/workflow"
)

const version = "0.3.0"

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	Queue    tasks.Queue
	BasePath string
	Auth     AuthConfig
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_required_state"`
	Message string         `json:"message" example:"missing required state: jira.issue_key"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"keys\":[\"jira.issue_key\"]}"`
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the agdt API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("server: task queue is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("agdt API", version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerState(group, cfg.App)
	registerTasks(group, cfg.App, cfg.Queue)
	registerWorkflow(group, cfg.App)
	registerPrompts(group, cfg.App)
	registerEvents(group, cfg.App)
	registerOpenAPI(router, api, basePath)
	if cfg.Gatherer != nil {
		router.Handle(metricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		missing   *errs.MissingRequiredStateError
		trans     *errs.InvalidTransitionError
		lock      *errs.StateLockTimeoutError
		notFound  *errs.TaskNotFoundError
		external  *errs.ExternalServiceError
		malformed *errs.MalformedResponseError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &missing):
		return newAPIError(http.StatusBadRequest, "missing_required_state", msg, map[string]any{"keys": missing.Keys})
	case errors.As(err, &trans):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{
			"workflow": trans.Workflow,
			"from":     trans.From,
			"to":       trans.To,
			"allowed":  trans.Allowed,
		})
	case errors.As(err, &lock):
		return newAPIError(http.StatusServiceUnavailable, "state_locked", msg, nil)
	case errors.As(err, &notFound), errors.Is(err, repo.ErrNotFound), errors.Is(err, prompt.ErrUnknownTemplate):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, workflow.ErrNoActiveWorkflow):
		return newAPIError(http.StatusNotFound, "no_active_workflow", msg, nil)
	case errors.Is(err, workflow.ErrWorkflowActive):
		return newAPIError(http.StatusConflict, "workflow_active", msg, nil)
	case errors.Is(err, tasks.ErrPoolClosed):
		return newAPIError(http.StatusServiceUnavailable, "shutting_down", msg, nil)
	case errors.As(err, &external), errors.As(err, &malformed):
		return newAPIError(http.StatusBadGateway, "external_service", msg, nil)
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>agdt API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; signed with AGDT_JWT_SECRET.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok", "version": version}}, nil
	})
}

func registerState(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Dump the workspace state",
	}, func(ctx context.Context, input *struct {
		Prefix string `query:"prefix"`
	}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		values, err := a.Store.Dump(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Prefix != "" {
			values = values.WithPrefix(input.Prefix)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: StateResponse{Values: values}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-state-key",
		Method:      http.MethodGet,
		Path:        "/state/{key}",
		Summary:     "Read one state key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body StateValueResponse `json:"body"`
	}, error) {
		val, ok, err := a.Store.Get(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "state key not set", map[string]any{"key": input.Key})
		}
		return &struct {
			Body StateValueResponse `json:"body"`
		}{Body: StateValueResponse{Key: input.Key, Value: val}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-state",
		Method:      http.MethodPatch,
		Path:        "/state",
		Summary:     "Set several state keys in one locked update",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body StatePatchRequest `json:"body"`
	}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		if len(input.Body.Values) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "values required", nil)
		}
		if err := a.Store.SetMany(ctx, state.Values(input.Body.Values)); err != nil {
			return nil, handleError(err)
		}
		values, err := a.Store.Dump(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: StateResponse{Values: values}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-state-key",
		Method:        http.MethodDelete,
		Path:          "/state/{key}",
		Summary:       "Clear one state key",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct{}, error) {
		if _, err := a.Store.Clear(ctx, input.Key); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, a *app.App, q tasks.Queue) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Run an action in the background",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SubmitTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		job := tasks.Job{Command: strings.TrimSpace(input.Body.Command), Args: input.Body.Args}
		if job.Command == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "command required", nil)
		}
		h, err := a.Submit(ctx, q, job)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := a.Inspector.Status(h.ID())
		if err != nil {
			return nil, handleError(err)
		}
		principal, _ := principalFromContext(ctx)
		a.Log.Info("task submitted over http",
			zap.String("task_id", rec.ID),
			zap.String("command", rec.Command),
			zap.String("subject", principal.Subject))
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks newest first",
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" enum:"pending,running,succeeded,failed"`
		Command string `query:"command"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		items, err := listTasks(ctx, a, repo.TaskFilters{Status: input.Status, Command: input.Command, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		resp := TaskListResponse{Items: []TaskResponse{}}
		for _, rec := range items {
			resp.Items = append(resp.Items, taskResponse(rec))
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Task status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		rec, err := a.Inspector.Status(input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := taskResponse(rec)
		if rec.ResultPath != "" {
			if data, err := a.Inspector.Result(rec.ID); err == nil && json.Valid(data) {
				resp.Result = json.RawMessage(data)
			}
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-log",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/log",
		Summary:     "Task log output",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Tail   int    `query:"tail" minimum:"0"`
	}) (*struct {
		Body TaskLogResponse `json:"body"`
	}, error) {
		text, err := a.Inspector.Log(input.TaskID, input.Tail)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskLogResponse `json:"body"`
		}{Body: TaskLogResponse{ID: input.TaskID, Log: text}}, nil
	})
}

// listTasks prefers the ledger index and falls back to scanning the task
// directory when no ledger is open.
func listTasks(ctx context.Context, a *app.App, f repo.TaskFilters) ([]domain.TaskRecord, error) {
	if a.Ledger != nil {
		return a.Ledger.Repo.ListTasks(ctx, f)
	}
	all, err := a.Records.List()
	if err != nil {
		return nil, err
	}
	out := make([]domain.TaskRecord, 0, len(all))
	for _, rec := range all {
		if f.Status != "" && string(rec.Status) != f.Status {
			continue
		}
		if f.Command != "" && rec.Command != f.Command {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func registerWorkflow(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "Known workflow definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []WorkflowDefinitionResponse `json:"body"`
	}, error) {
		out := []WorkflowDefinitionResponse{}
		for _, def := range workflow.Definitions() {
			out = append(out, definitionResponse(def))
		}
		return &struct {
			Body []WorkflowDefinitionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflow",
		Summary:     "Active workflow and its current prompt",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		inst, ok, err := a.Workflow.Current(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, handleError(workflow.ErrNoActiveWorkflow)
		}
		return workflowBody(ctx, a, inst)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-workflow",
		Method:        http.MethodPost,
		Path:          "/workflow",
		Summary:       "Start a workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body StartWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		inst, err := a.Workflow.Start(ctx, input.Body.Name, input.Body.EntityID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return workflowBody(ctx, a, inst)
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-workflow",
		Method:      http.MethodPost,
		Path:        "/workflow/advance",
		Summary:     "Move the active workflow to a step",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body AdvanceWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		inst, err := a.Workflow.Advance(ctx, workflow.Step(input.Body.Step), input.Body.Increment)
		if err != nil {
			return nil, handleError(err)
		}
		return workflowBody(ctx, a, inst)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-workflow",
		Method:        http.MethodDelete,
		Path:          "/workflow",
		Summary:       "Abandon the active workflow",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if _, err := a.Workflow.Clear(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func workflowBody(ctx context.Context, a *app.App, inst workflow.Instance) (*struct {
	Body WorkflowResponse `json:"body"`
}, error) {
	resp := WorkflowResponse{Instance: inst}
	if def, err := workflow.Lookup(inst.Workflow); err == nil {
		resp.Allowed = nonNilSlice(def.Allowed(inst.Step))
	}
	if inst.Step != workflow.Complete {
		rendered, err := a.Workflow.Render(ctx, inst)
		if err != nil {
			return nil, handleError(err)
		}
		resp.Prompt = &rendered
	}
	return &struct {
		Body WorkflowResponse `json:"body"`
	}{Body: resp}, nil
}

func registerPrompts(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-prompts",
		Method:      http.MethodGet,
		Path:        "/prompts",
		Summary:     "Available prompt templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []*prompt.Template `json:"body"`
	}, error) {
		list, err := a.Prompts.List()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*prompt.Template `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "render-prompt",
		Method:      http.MethodGet,
		Path:        "/prompts/{prompt_id}",
		Summary:     "Render a prompt against the current state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PromptID string `path:"prompt_id"`
	}) (*struct {
		Body prompt.Rendered `json:"body"`
	}, error) {
		values, err := a.Store.Dump(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := a.Prompts.Render(input.PromptID, prompt.ContextFromState(values))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body prompt.Rendered `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent ledger events",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"task,workflow,state,sdd"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if a.Ledger == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "ledger_unavailable", "event ledger is not open", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := a.Ledger.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
