package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"agdt/internal/app"
	"agdt/internal/config"
	"agdt/internal/domain"
	"agdt/internal/events"
	"agdt/internal/ledger"
	"agdt/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, secret string) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	env := map[string]string{
		"JIRA_EMAIL":     "dev@example.com",
		"JIRA_API_TOKEN": "jira-token",
	}
	a, err := app.Open(context.Background(), app.Options{
		Workspace: workspace,
		LogOutput: io.Discard,
		Getenv:    func(k string) string { return env[k] },
	})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	a.Config.Retry.MaxAttempts = 1
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pool := a.Pool(metrics)
	pool.Start(context.Background())
	handler, err := New(Config{App: a, Queue: pool, BasePath: "/v1", Auth: AuthConfig{JWTSecret: secret}, Gatherer: reg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			pool.Shutdown(ctx)
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, subject string) map[string]string {
	t.Helper()
	token, err := IssueToken(testSecret, subject, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestAuthRequiredExceptHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, testSecret)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/state", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("unexpected code %s", code)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/state", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/state", nil, bearer(t, "editor"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous metrics, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, bearer(t, "ops"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
}

func TestStatePatchAndRead(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/state", map[string]any{
		"values": map[string]any{"jira.issue_key": "DFLY-1234", "pr.number": 12},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/state/jira.issue_key", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get key status %d: %s", res.StatusCode, string(data))
	}
	var got StateValueResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Value != "DFLY-1234" {
		t.Fatalf("unexpected value %v", got.Value)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/state", map[string]any{
		"values": map[string]any{"Bad Key": "x"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad key, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/state/jira.issue_key", nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/state/jira.issue_key", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestSubmitTaskMissingState(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"command": "jira.fetch-issue",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "missing_required_state" {
		t.Fatalf("unexpected code %s", code)
	}
	if !strings.Contains(string(data), "jira.issue_key") {
		t.Fatalf("missing key not named: %s", string(data))
	}
	list, err := srv.App.Records.List()
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no task, got %d", len(list))
	}
}

func TestSubmitTaskRunsInBackground(t *testing.T) {
	jira := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"key":"DFLY-1234","fields":{"summary":"Fix login","labels":[]}}`)
	}))
	defer jira.Close()

	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	srv.App.Config.Jira.BaseURL = jira.URL
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"command": "jira.fetch-issue",
		"args":    []string{"jira.issue_key=DFLY-1234"},
	}, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted TaskResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if submitted.ID == "" {
		t.Fatalf("no task id in %s", string(data))
	}

	rec, err := srv.App.Inspector.Wait(context.Background(), submitted.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if rec.Status != domain.TaskSucceeded {
		t.Fatalf("task ended %s: %s", rec.Status, rec.Error)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+submitted.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), `"Fix login"`) {
		t.Fatalf("result not inlined: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?status=succeeded", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list TaskListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != submitted.ID {
		t.Fatalf("unexpected list %+v", list.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=task&limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with a cursor, got %+v", page)
	}
	if page.Items[0].Type != events.TaskSucceeded {
		t.Fatalf("newest event %s", page.Items[0].Type)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, bearer(t, "ops"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `agdt_tasks_transitions_total{command="jira.fetch-issue",status="succeeded"} 1`) {
		t.Fatalf("metrics missing task counter:\n%s", string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/01HZZZZZZZZZZZZZZZZZZZZZZZ", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", res.StatusCode)
	}
}

func TestWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflow", map[string]any{
		"name":      "work-on-jira-issue",
		"entity_id": "DFLY-1234",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var started WorkflowResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if started.Instance.Step != "initiate" || started.Prompt == nil {
		t.Fatalf("unexpected start %+v", started)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflow/advance", map[string]any{"step": "verification"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("unexpected code %s", code)
	}
	if !strings.Contains(string(data), `"planning"`) {
		t.Fatalf("allowed steps not listed: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflow/advance", map[string]any{"step": "planning"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/workflow", nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflow", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after clear, got %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv, cleanup := newTestServer(t, testSecret)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, bearer(t, "docs"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, want := range []string{"submit-task", "advance-workflow", "bearerAuth"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("openapi missing %s", want)
		}
	}
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	var (
		mu  sync.Mutex
		got []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Agdt-Secret") != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}))
	defer hook.Close()

	ctx := context.Background()
	l, err := ledger.Open(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer l.Close()
	if err := l.Record(ctx, events.StateChanged, "state", "old", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	reg := prometheus.NewRegistry()
	d := NewWebhookDispatcher(l.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.WorkflowStarted},
		Secret: "s3cret",
	}}, nil, NewMetrics(reg))

	d.DispatchAll(ctx)
	if err := l.Record(ctx, events.StateChanged, "state", "skipped", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(ctx, events.WorkflowStarted, "workflow", "wf-1", events.EventPayload{"workflow": "create-jira-issue"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d: %+v", len(got), got)
	}
	if got[0].Type != events.WorkflowStarted || got[0].EntityID != "wf-1" {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
	if !strings.Contains(string(got[0].Payload), "create-jira-issue") {
		t.Fatalf("payload not forwarded: %s", string(got[0].Payload))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.Close()
	if a.Ledger == nil {
		t.Fatalf("ledger not opened")
	}
	if err := a.Ledger.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      "key-1",
		Name:    "editor-plugin",
		KeyHash: repo.HashAPIKey("agdt_secret"),
	}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	pool := a.Pool()
	defer pool.Shutdown(context.Background())
	handler, err := New(Config{App: a, Queue: pool, Auth: AuthConfig{APIKeys: a.Ledger.Repo}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/state", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/state", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/state", nil, map[string]string{"X-Api-Key": "agdt_secret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/state", nil, bearer(t, "editor"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bearer without secret, got %d", res.StatusCode)
	}
}
