package actions

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"agdt/internal/github"
)

// GitHubPullRequestDetails is the result file of github.get-pull-request.
type GitHubPullRequestDetails struct {
	PullRequest github.PullRequest `json:"pull_request"`
	Files       []github.File      `json:"files"`
	ResultFile  string             `json:"result_file,omitempty"`
}

func githubActions() []*Action {
	return []*Action{
		{
			Name:     "github.get-pull-request",
			Service:  "github",
			Summary:  "Fetch a pull request and its files into github-pr-<n>.json",
			Requires: []string{"github.pull_request"},
			Run:      githubGetPullRequest,
		},
		{
			Name:     "github.create-pull-request",
			Service:  "github",
			Summary:  "Open a pull request from the current branch",
			Requires: []string{"github.title"},
			Optional: []string{"github.body", "github.head", "github.base", "github.draft"},
			Run:      githubCreatePullRequest,
		},
		{
			Name:     "github.add-comment",
			Service:  "github",
			Summary:  "Comment on an issue or pull request",
			Requires: []string{"github.issue_number", "github.comment"},
			Run:      githubAddComment,
		},
		{
			Name:     "github.reply-to-comment",
			Service:  "github",
			Summary:  "Reply to a pull request review comment",
			Requires: []string{"github.pull_request", "github.comment_id", "github.reply"},
			Run:      githubReplyToComment,
		},
		{
			Name:     "github.create-issue",
			Service:  "github",
			Summary:  "Create an issue and store its number",
			Requires: []string{"github.issue_title"},
			Optional: []string{"github.issue_body", "github.labels"},
			Run:      githubCreateIssue,
		},
	}
}

func githubGetPullRequest(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.GitHub(ctx, in.Log)
	if err != nil {
		return nil, err
	}
	number, err := in.Int("github.pull_request")
	if err != nil {
		return nil, err
	}
	pr, err := client.GetPullRequest(ctx, number)
	if err != nil {
		return nil, err
	}
	files, err := client.ListPullRequestFiles(ctx, number)
	if err != nil {
		return nil, err
	}
	details := GitHubPullRequestDetails{PullRequest: pr, Files: files}
	path, err := env.WriteResultFile(fmt.Sprintf("github-pr-%d.json", pr.Number), details)
	if err != nil {
		return nil, err
	}
	details.ResultFile = path
	if err := env.Store.SetMany(ctx, map[string]any{"pr.title": pr.Title, "pr.author": pr.Author}); err != nil {
		in.Log.Warn("store pull request summary", zap.Error(err))
	}
	return details, nil
}

func githubCreatePullRequest(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.GitHub(ctx, in.Log)
	if err != nil {
		return nil, err
	}
	head := in.String("github.head")
	if head == "" {
		if head, err = env.CurrentBranch(); err != nil {
			return nil, fmt.Errorf("github.head is unset and the current branch is unknown: %w", err)
		}
	}
	base := in.String("github.base")
	if base == "" {
		base = "main"
	}
	pr, err := client.CreatePullRequest(ctx, github.NewPullRequest{
		Head:  head,
		Base:  base,
		Title: in.String("github.title"),
		Body:  in.String("github.body"),
		Draft: in.String("github.draft") == "true",
	})
	if err != nil {
		return nil, err
	}
	if err := env.Store.Set(ctx, "github.pull_request", pr.Number); err != nil {
		return pr, fmt.Errorf("pull request #%d created but not stored: %w", pr.Number, err)
	}
	in.Log.Info("pull request created", zap.Int("number", pr.Number), zap.String("url", pr.URL))
	return pr, nil
}

func githubAddComment(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.GitHub(ctx, in.Log)
	if err != nil {
		return nil, err
	}
	number, err := in.Int("github.issue_number")
	if err != nil {
		return nil, err
	}
	return client.AddIssueComment(ctx, number, in.String("github.comment"))
}

func githubReplyToComment(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.GitHub(ctx, in.Log)
	if err != nil {
		return nil, err
	}
	number, err := in.Int("github.pull_request")
	if err != nil {
		return nil, err
	}
	commentID, err := strconv.ParseInt(in.String("github.comment_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state key github.comment_id must be an integer, got %q", in.String("github.comment_id"))
	}
	return client.ReplyToReviewComment(ctx, number, commentID, in.String("github.reply"))
}

func githubCreateIssue(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.GitHub(ctx, in.Log)
	if err != nil {
		return nil, err
	}
	issue, err := client.CreateIssue(ctx, in.String("github.issue_title"), in.String("github.issue_body"), in.List("github.labels"))
	if err != nil {
		return nil, err
	}
	if err := env.Store.Set(ctx, "github.issue_number", issue.Number); err != nil {
		return issue, fmt.Errorf("issue #%d created but not stored: %w", issue.Number, err)
	}
	return issue, nil
}
