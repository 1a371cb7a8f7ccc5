// Package azdo talks to the Azure DevOps Git REST API (7.1) for pull
// requests and their comment threads.
package azdo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"agdt/internal/apiclient"
)

const (
	service    = "azure-devops"
	apiVersion = "7.1"
)

var ErrNotConfigured = errors.New("azure devops is not configured: set azure_devops.organization, project and repository in agdt.yml and AZURE_DEVOPS_PAT in the environment")

// Vote values accepted by the reviewers endpoint.
const (
	VoteApproved                = 10
	VoteApprovedWithSuggestions = 5
	VoteNone                    = 0
	VoteWaitingForAuthor        = -5
	VoteRejected                = -10
)

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName,omitempty"`
}

type Reviewer struct {
	Identity
	Vote int `json:"vote"`
}

// PullRequest is the subset of a PR agdt uses.
type PullRequest struct {
	ID            int        `json:"pullRequestId"`
	Status        string     `json:"status"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	SourceRefName string     `json:"sourceRefName"`
	TargetRefName string     `json:"targetRefName"`
	IsDraft       bool       `json:"isDraft"`
	CreatedBy     Identity   `json:"createdBy"`
	Reviewers     []Reviewer `json:"reviewers,omitempty"`
	URL           string     `json:"url,omitempty"`
}

type Comment struct {
	ID              int      `json:"id"`
	ParentCommentID int      `json:"parentCommentId,omitempty"`
	Content         string   `json:"content"`
	CommentType     string   `json:"commentType,omitempty"`
	Author          Identity `json:"author"`
}

type Position struct {
	Line   int `json:"line"`
	Offset int `json:"offset"`
}

type ThreadContext struct {
	FilePath       string    `json:"filePath"`
	RightFileStart *Position `json:"rightFileStart,omitempty"`
	RightFileEnd   *Position `json:"rightFileEnd,omitempty"`
}

type Thread struct {
	ID            int            `json:"id"`
	Status        string         `json:"status,omitempty"`
	ThreadContext *ThreadContext `json:"threadContext,omitempty"`
	Comments      []Comment      `json:"comments"`
	IsDeleted     bool           `json:"isDeleted,omitempty"`
}

// NewPullRequest holds the fields of a PR to open.
type NewPullRequest struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
	Draft        bool
}

type Client struct {
	api          *apiclient.Client
	organization string
	project      string
	repository   string
}

// New returns a client for one repository. Authentication uses a personal
// access token with basic auth and an empty user name.
func New(baseURL, organization, project, repository, pat string, opts apiclient.Options) (*Client, error) {
	if organization == "" || project == "" || repository == "" || pat == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://dev.azure.com"
	}
	return &Client{
		api:          apiclient.New(service, baseURL, apiclient.BasicAuth("", pat), opts),
		organization: organization,
		project:      project,
		repository:   repository,
	}, nil
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/%s/%s/_apis/git/repositories/%s/%s",
		url.PathEscape(c.organization), url.PathEscape(c.project), url.PathEscape(c.repository), strings.TrimLeft(suffix, "/"))
}

func (c *Client) do(ctx context.Context, op, method, suffix string, body, out any) error {
	return c.api.Do(ctx, apiclient.Request{
		Operation: op,
		Method:    method,
		Path:      c.repoPath(suffix),
		Query:     url.Values{"api-version": {apiVersion}},
		Body:      body,
	}, out)
}

func checkPullRequest(op string, pr PullRequest) error {
	return apiclient.RequireFields(service, op,
		apiclient.Field{Name: "pullRequestId", Present: pr.ID != 0},
		apiclient.Field{Name: "status", Present: pr.Status != ""},
	)
}

func (c *Client) GetPullRequest(ctx context.Context, id int) (PullRequest, error) {
	const op = "get pull request"
	var pr PullRequest
	if err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("pullrequests/%d", id), nil, &pr); err != nil {
		return PullRequest{}, err
	}
	return pr, checkPullRequest(op, pr)
}

// ListThreads returns the non-deleted comment threads of a PR.
func (c *Client) ListThreads(ctx context.Context, prID int) ([]Thread, error) {
	const op = "list threads"
	var out struct {
		Value []Thread `json:"value"`
	}
	if err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("pullrequests/%d/threads", prID), nil, &out); err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(out.Value))
	for _, t := range out.Value {
		if t.IsDeleted {
			continue
		}
		if err := apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: t.ID != 0}); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// CreateThread opens a new comment thread. A non-empty filePath anchors it
// to line (1-based) of that file in the PR's source version.
func (c *Client) CreateThread(ctx context.Context, prID int, content, filePath string, line int) (Thread, error) {
	const op = "create thread"
	body := map[string]any{
		"comments": []map[string]any{{"parentCommentId": 0, "content": content, "commentType": 1}},
		"status":   "active",
	}
	if filePath != "" {
		if !strings.HasPrefix(filePath, "/") {
			filePath = "/" + filePath
		}
		tc := ThreadContext{FilePath: filePath}
		if line > 0 {
			tc.RightFileStart = &Position{Line: line, Offset: 1}
			tc.RightFileEnd = &Position{Line: line, Offset: 1}
		}
		body["threadContext"] = tc
	}
	var t Thread
	if err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("pullrequests/%d/threads", prID), body, &t); err != nil {
		return Thread{}, err
	}
	return t, apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: t.ID != 0})
}

// ReplyToThread adds a reply to the first comment of a thread.
func (c *Client) ReplyToThread(ctx context.Context, prID, threadID int, content string) (Comment, error) {
	const op = "reply to thread"
	body := map[string]any{"content": content, "parentCommentId": 1, "commentType": 1}
	var cm Comment
	if err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("pullrequests/%d/threads/%d/comments", prID, threadID), body, &cm); err != nil {
		return Comment{}, err
	}
	return cm, apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: cm.ID != 0})
}

// SetThreadStatus changes a thread's status, e.g. "fixed" or "closed".
func (c *Client) SetThreadStatus(ctx context.Context, prID, threadID int, status string) (Thread, error) {
	const op = "set thread status"
	var t Thread
	if err := c.do(ctx, op, http.MethodPatch, fmt.Sprintf("pullrequests/%d/threads/%d", prID, threadID), map[string]any{"status": status}, &t); err != nil {
		return Thread{}, err
	}
	return t, apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: t.ID != 0})
}

func refName(branch string) string {
	if strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return "refs/heads/" + branch
}

func (c *Client) CreatePullRequest(ctx context.Context, in NewPullRequest) (PullRequest, error) {
	const op = "create pull request"
	body := map[string]any{
		"sourceRefName": refName(in.SourceBranch),
		"targetRefName": refName(in.TargetBranch),
		"title":         in.Title,
		"description":   in.Description,
		"isDraft":       in.Draft,
	}
	var pr PullRequest
	if err := c.do(ctx, op, http.MethodPost, "pullrequests", body, &pr); err != nil {
		return PullRequest{}, err
	}
	return pr, checkPullRequest(op, pr)
}

// Vote sets reviewerID's vote on a PR.
func (c *Client) Vote(ctx context.Context, prID int, reviewerID string, vote int) (Reviewer, error) {
	const op = "vote"
	var r Reviewer
	path := fmt.Sprintf("pullrequests/%d/reviewers/%s", prID, url.PathEscape(reviewerID))
	if err := c.do(ctx, op, http.MethodPut, path, map[string]any{"vote": vote}, &r); err != nil {
		return Reviewer{}, err
	}
	return r, apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: r.ID != ""})
}
