package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agdt/internal/apiclient"
	"agdt/internal/errs"
)

const issueJSON = `{
  "key": "DFLY-1234",
  "fields": {
    "summary": "Add retry to uploads",
    "labels": ["backend", "reliability"],
    "status": {"name": "In Progress"},
    "issuetype": {"name": "Story"},
    "description": {
      "type": "doc", "version": 1,
      "content": [
        {"type": "paragraph", "content": [{"type": "text", "text": "Uploads fail on flaky networks."}]},
        {"type": "bulletList", "content": [
          {"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "retry 3 times"}]}]},
          {"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "log failures"}]}]}
        ]}
      ]
    }
  }
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "me@example.com", "tok", apiclient.Options{})
	require.NoError(t, err)
	return c
}

func TestGetIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/issue/DFLY-1234", r.URL.Path)
		w.Write([]byte(issueJSON))
	})
	issue, err := c.GetIssue(context.Background(), "DFLY-1234")
	require.NoError(t, err)
	assert.Equal(t, "DFLY-1234", issue.Key)
	assert.Equal(t, "Add retry to uploads", issue.Summary)
	assert.Equal(t, "Uploads fail on flaky networks.\n\n- retry 3 times\n- log failures", issue.Description)
	assert.Equal(t, []string{"backend", "reliability"}, issue.Labels)
	assert.Equal(t, "In Progress", issue.Status)
	assert.Equal(t, "Story", issue.IssueType)
}

func TestGetIssueMissingSummary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"key":"DFLY-1","fields":{"labels":[]}}`))
	})
	_, err := c.GetIssue(context.Background(), "DFLY-1")
	var mal *errs.MalformedResponseError
	require.True(t, errors.As(err, &mal))
	assert.Equal(t, "fields.summary", mal.Field)
}

func TestAddCommentSendsADF(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/3/issue/DFLY-1/comment", r.URL.Path)
		var body struct {
			Body adfNode `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "doc", body.Body.Type)
		require.Len(t, body.Body.Content, 2)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"10001","self":"x"}`))
	})
	out, err := c.AddComment(context.Background(), "DFLY-1", "Looks good.\n\nShipping it.")
	require.NoError(t, err)
	assert.Equal(t, "10001", out.ID)
}

func TestCreateIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields map[string]any `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Bug", body.Fields["issuetype"].(map[string]any)["name"])
		assert.Equal(t, "DFLY", body.Fields["project"].(map[string]any)["key"])
		assert.NotContains(t, body.Fields, "description")
		w.Write([]byte(`{"id":"1","key":"DFLY-9","self":"x"}`))
	})
	out, err := c.CreateIssue(context.Background(), NewIssue{ProjectKey: "DFLY", IssueType: "Bug", Summary: "Crash"})
	require.NoError(t, err)
	assert.Equal(t, "DFLY-9", out.Key)
}

func TestSearchIssues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search/jql", r.URL.Path)
		w.Write([]byte(`{"issues":[` + issueJSON + `]}`))
	})
	issues, err := c.SearchIssues(context.Background(), "project = DFLY", 10)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "DFLY-1234", issues[0].Key)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New("https://x.atlassian.net", "", "tok", apiclient.Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFlattenPlainStringDescription(t *testing.T) {
	assert.Equal(t, "plain", flattenDescription(json.RawMessage(`"plain"`)))
	assert.Equal(t, "", flattenDescription(json.RawMessage(`null`)))
}
