// Package github wraps go-github for the pull request and issue operations
// agdt exposes as actions.
package github

import (
	"context"
	"errors"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"agdt/internal/apiclient"
	"agdt/internal/errs"
)

const service = "github"

var ErrNotConfigured = errors.New("github is not configured: set GITHUB_TOKEN and github.owner/github.repo in agdt.yml (or run inside a clone with a github remote)")

type PullRequest struct {
	Number int    `json:"number"`
	State  string `json:"state"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	Head   string `json:"head"`
	Base   string `json:"base"`
	Draft  bool   `json:"draft"`
	Merged bool   `json:"merged"`
	Author string `json:"author,omitempty"`
	URL    string `json:"url,omitempty"`
}

type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	State  string   `json:"state"`
	Labels []string `json:"labels"`
	URL    string   `json:"url,omitempty"`
}

type Comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	URL  string `json:"url,omitempty"`
}

type File struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

type NewPullRequest struct {
	Head  string
	Base  string
	Title string
	Body  string
	Draft bool
}

type Client struct {
	gh      *gh.Client
	owner   string
	repo    string
	retry   apiclient.RetryPolicy
	limiter *rate.Limiter
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a client for owner/repo. A non-empty baseURL targets GitHub
// Enterprise Server.
func New(ctx context.Context, baseURL, owner, repo, token string, opts apiclient.Options) (*Client, error) {
	if token == "" || owner == "" || repo == "" {
		return nil, ErrNotConfigured
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	if opts.Timeout > 0 {
		httpClient.Timeout = opts.Timeout
	}
	client := gh.NewClient(httpClient)
	if strings.TrimSpace(baseURL) != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, err
		}
	}
	limit := rate.Inf
	if opts.RateLimit.PerSecond > 0 {
		limit = rate.Limit(opts.RateLimit.PerSecond)
	}
	burst := opts.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		gh:      client,
		owner:   owner,
		repo:    repo,
		retry:   opts.Retry,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(zap.String("service", service)),
		sleep:   sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) Owner() string { return c.owner }
func (c *Client) Repo() string  { return c.repo }

// call runs a read; every transient failure is retried.
func (c *Client) call(ctx context.Context, op string, fn func() (*gh.Response, error)) error {
	return c.do(ctx, op, true, fn)
}

// write runs a request that creates something. It is retried only when
// GitHub rejected it for rate limiting, so a 5xx never posts twice.
func (c *Client) write(ctx context.Context, op string, fn func() (*gh.Response, error)) error {
	return c.do(ctx, op, false, fn)
}

func (c *Client) do(ctx context.Context, op string, idempotent bool, fn func() (*gh.Response, error)) error {
	resp, err := c.retryOperation(ctx, op, idempotent, fn)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ext := &errs.ExternalServiceError{Service: service, Operation: op, StatusCode: statusCode(resp), Err: err}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		ext.Err = errors.New(ghErr.Message)
	}
	return ext
}

func toPullRequest(op string, pr *gh.PullRequest) (PullRequest, error) {
	if pr == nil {
		return PullRequest{}, &errs.MalformedResponseError{Service: service, Operation: op, Field: "pull_request"}
	}
	if err := apiclient.RequireFields(service, op,
		apiclient.Field{Name: "number", Present: pr.Number != nil},
		apiclient.Field{Name: "state", Present: pr.State != nil},
	); err != nil {
		return PullRequest{}, err
	}
	out := PullRequest{
		Number: pr.GetNumber(),
		State:  pr.GetState(),
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
		Draft:  pr.GetDraft(),
		Merged: pr.GetMerged(),
		Author: pr.GetUser().GetLogin(),
		URL:    pr.GetHTMLURL(),
	}
	return out, nil
}

func toIssue(op string, is *gh.Issue) (Issue, error) {
	if is == nil {
		return Issue{}, &errs.MalformedResponseError{Service: service, Operation: op, Field: "issue"}
	}
	if err := apiclient.RequireFields(service, op,
		apiclient.Field{Name: "number", Present: is.Number != nil},
		apiclient.Field{Name: "title", Present: is.Title != nil},
	); err != nil {
		return Issue{}, err
	}
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
		State:  is.GetState(),
		Labels: labels,
		URL:    is.GetHTMLURL(),
	}, nil
}

func (c *Client) GetPullRequest(ctx context.Context, number int) (PullRequest, error) {
	const op = "get pull request"
	var pr *gh.PullRequest
	err := c.call(ctx, op, func() (resp *gh.Response, err error) {
		pr, resp, err = c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
		return resp, err
	})
	if err != nil {
		return PullRequest{}, err
	}
	return toPullRequest(op, pr)
}

func (c *Client) CreatePullRequest(ctx context.Context, in NewPullRequest) (PullRequest, error) {
	const op = "create pull request"
	var pr *gh.PullRequest
	req := &gh.NewPullRequest{
		Title: gh.String(in.Title),
		Head:  gh.String(in.Head),
		Base:  gh.String(in.Base),
		Body:  gh.String(in.Body),
		Draft: gh.Bool(in.Draft),
	}
	err := c.write(ctx, op, func() (resp *gh.Response, err error) {
		pr, resp, err = c.gh.PullRequests.Create(ctx, c.owner, c.repo, req)
		return resp, err
	})
	if err != nil {
		return PullRequest{}, err
	}
	return toPullRequest(op, pr)
}

// ListPullRequestFiles returns every changed file, following pagination.
func (c *Client) ListPullRequestFiles(ctx context.Context, number int) ([]File, error) {
	const op = "list pull request files"
	opts := &gh.ListOptions{PerPage: 100}
	var files []File
	for {
		var page []*gh.CommitFile
		var next int
		err := c.call(ctx, op, func() (*gh.Response, error) {
			p, resp, err := c.gh.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
			page = p
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, f := range page {
			files = append(files, File{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if next == 0 {
			return files, nil
		}
		opts.Page = next
	}
}

// AddIssueComment comments on an issue or pull request conversation.
func (c *Client) AddIssueComment(ctx context.Context, number int, body string) (Comment, error) {
	const op = "add comment"
	var cm *gh.IssueComment
	err := c.write(ctx, op, func() (resp *gh.Response, err error) {
		cm, resp, err = c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{Body: gh.String(body)})
		return resp, err
	})
	if err != nil {
		return Comment{}, err
	}
	if err := apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: cm != nil && cm.ID != nil}); err != nil {
		return Comment{}, err
	}
	return Comment{ID: cm.GetID(), Body: cm.GetBody(), URL: cm.GetHTMLURL()}, nil
}

// ReplyToReviewComment answers a pull request review comment in its thread.
func (c *Client) ReplyToReviewComment(ctx context.Context, number int, commentID int64, body string) (Comment, error) {
	const op = "reply to review comment"
	var cm *gh.PullRequestComment
	err := c.write(ctx, op, func() (resp *gh.Response, err error) {
		cm, resp, err = c.gh.PullRequests.CreateCommentInReplyTo(ctx, c.owner, c.repo, number, body, commentID)
		return resp, err
	})
	if err != nil {
		return Comment{}, err
	}
	if err := apiclient.RequireFields(service, op, apiclient.Field{Name: "id", Present: cm != nil && cm.ID != nil}); err != nil {
		return Comment{}, err
	}
	return Comment{ID: cm.GetID(), Body: cm.GetBody(), URL: cm.GetHTMLURL()}, nil
}

func (c *Client) GetIssue(ctx context.Context, number int) (Issue, error) {
	const op = "get issue"
	var is *gh.Issue
	err := c.call(ctx, op, func() (resp *gh.Response, err error) {
		is, resp, err = c.gh.Issues.Get(ctx, c.owner, c.repo, number)
		return resp, err
	})
	if err != nil {
		return Issue{}, err
	}
	return toIssue(op, is)
}

func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error) {
	const op = "create issue"
	req := &gh.IssueRequest{Title: gh.String(title), Body: gh.String(body)}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	var is *gh.Issue
	err := c.write(ctx, op, func() (resp *gh.Response, err error) {
		is, resp, err = c.gh.Issues.Create(ctx, c.owner, c.repo, req)
		return resp, err
	})
	if err != nil {
		return Issue{}, err
	}
	return toIssue(op, is)
}
