// Package jira is a small client for the Jira Cloud REST API v3.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"agdt/internal/apiclient"
)

const service = "jira"

var ErrNotConfigured = errors.New("jira is not configured: set jira.base_url in agdt.yml and JIRA_EMAIL/JIRA_API_TOKEN in the environment")

// Issue is the local view of a Jira issue.
type Issue struct {
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Status      string   `json:"status,omitempty"`
	IssueType   string   `json:"issue_type,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// CreatedIssue is returned by CreateIssue.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// Comment is a created comment.
type Comment struct {
	ID   string `json:"id"`
	Self string `json:"self"`
}

// NewIssue holds the fields of an issue to create.
type NewIssue struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Labels      []string
}

type Client struct {
	api *apiclient.Client
}

// New returns a client for the Jira site at baseURL using basic auth with
// an account email and API token.
func New(baseURL, email, token string, opts apiclient.Options) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" || email == "" || token == "" {
		return nil, ErrNotConfigured
	}
	return &Client{api: apiclient.New(service, baseURL, apiclient.BasicAuth(email, token), opts)}, nil
}

type issueFields struct {
	Summary     *string         `json:"summary"`
	Description json.RawMessage `json:"description"`
	Labels      []string        `json:"labels"`
	Status      *struct {
		Name string `json:"name"`
	} `json:"status"`
	IssueType *struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
}

type issuePayload struct {
	Key    string       `json:"key"`
	Fields *issueFields `json:"fields"`
}

func (c *Client) toIssue(op string, p issuePayload) (Issue, error) {
	var summaryOK bool
	if p.Fields != nil && p.Fields.Summary != nil {
		summaryOK = true
	}
	if err := apiclient.RequireFields(service, op,
		apiclient.Field{Name: "key", Present: p.Key != ""},
		apiclient.Field{Name: "fields", Present: p.Fields != nil},
		apiclient.Field{Name: "fields.summary", Present: summaryOK},
	); err != nil {
		return Issue{}, err
	}
	f := p.Fields
	issue := Issue{
		Key:         p.Key,
		Summary:     *f.Summary,
		Description: flattenDescription(f.Description),
		Labels:      f.Labels,
		URL:         c.api.BaseURL + "/browse/" + p.Key,
	}
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	if f.Status != nil {
		issue.Status = f.Status.Name
	}
	if f.IssueType != nil {
		issue.IssueType = f.IssueType.Name
	}
	if f.Assignee != nil {
		issue.Assignee = f.Assignee.DisplayName
	}
	return issue, nil
}

const issueFieldList = "summary,description,labels,status,issuetype,assignee"

// GetIssue fetches one issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (Issue, error) {
	const op = "get issue"
	var p issuePayload
	err := c.api.Do(ctx, apiclient.Request{
		Operation: op,
		Method:    http.MethodGet,
		Path:      "/rest/api/3/issue/" + url.PathEscape(key),
		Query:     url.Values{"fields": {issueFieldList}},
	}, &p)
	if err != nil {
		return Issue{}, err
	}
	return c.toIssue(op, p)
}

// AddComment posts text as a comment on the issue.
func (c *Client) AddComment(ctx context.Context, key, text string) (Comment, error) {
	const op = "add comment"
	var out Comment
	err := c.api.Do(ctx, apiclient.Request{
		Operation: op,
		Method:    http.MethodPost,
		Path:      "/rest/api/3/issue/" + url.PathEscape(key) + "/comment",
		Body:      map[string]any{"body": adfDocument(text)},
	}, &out)
	if err != nil {
		return Comment{}, err
	}
	if err := apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: out.ID != ""}); err != nil {
		return Comment{}, err
	}
	return out, nil
}

// CreateIssue creates an issue and returns its key.
func (c *Client) CreateIssue(ctx context.Context, in NewIssue) (CreatedIssue, error) {
	const op = "create issue"
	issueType := in.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	fields := map[string]any{
		"project":   map[string]string{"key": in.ProjectKey},
		"issuetype": map[string]string{"name": issueType},
		"summary":   in.Summary,
	}
	if strings.TrimSpace(in.Description) != "" {
		fields["description"] = adfDocument(in.Description)
	}
	if len(in.Labels) > 0 {
		fields["labels"] = in.Labels
	}
	var out CreatedIssue
	err := c.api.Do(ctx, apiclient.Request{
		Operation: op,
		Method:    http.MethodPost,
		Path:      "/rest/api/3/issue",
		Body:      map[string]any{"fields": fields},
	}, &out)
	if err != nil {
		return CreatedIssue{}, err
	}
	if err := apiclient.RequireFields(service, op, apiclient.Field{Name: "key", Present: out.Key != ""}); err != nil {
		return CreatedIssue{}, err
	}
	return out, nil
}

// SearchIssues runs a JQL query and returns at most max issues.
func (c *Client) SearchIssues(ctx context.Context, jql string, max int) ([]Issue, error) {
	const op = "search issues"
	if max <= 0 {
		max = 50
	}
	var out struct {
		Issues []issuePayload `json:"issues"`
	}
	err := c.api.Do(ctx, apiclient.Request{
		Operation: op,
		Method:    http.MethodPost,
		Path:      "/rest/api/3/search/jql",
		Body: map[string]any{
			"jql":        jql,
			"maxResults": max,
			"fields":     strings.Split(issueFieldList, ","),
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(out.Issues))
	for _, p := range out.Issues {
		issue, err := c.toIssue(op, p)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}
