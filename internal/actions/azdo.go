package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agdt/internal/azdo"
)

// PullRequestDetails is the result file of azdo.get-pull-request.
type PullRequestDetails struct {
	PullRequest azdo.PullRequest `json:"pull_request"`
	Threads     []azdo.Thread    `json:"threads"`
	ResultFile  string           `json:"result_file,omitempty"`
}

func azdoActions() []*Action {
	return []*Action{
		{
			Name:     "azdo.get-pull-request",
			Service:  "azure-devops",
			Summary:  "Fetch a pull request and its threads into azdo-pr-<id>.json",
			Requires: []string{"azdo.pull_request_id"},
			Run:      azdoGetPullRequest,
		},
		{
			Name:     "azdo.add-comment",
			Service:  "azure-devops",
			Summary:  "Open a comment thread, optionally on a file line",
			Requires: []string{"azdo.pull_request_id", "azdo.comment"},
			Optional: []string{"azdo.file_path", "azdo.line"},
			Run:      azdoAddComment,
		},
		{
			Name:     "azdo.reply-to-thread",
			Service:  "azure-devops",
			Summary:  "Reply to an existing thread",
			Requires: []string{"azdo.pull_request_id", "azdo.thread_id", "azdo.reply"},
			Run:      azdoReplyToThread,
		},
		{
			Name:     "azdo.resolve-thread",
			Service:  "azure-devops",
			Summary:  "Set a thread's status (default fixed)",
			Requires: []string{"azdo.pull_request_id", "azdo.thread_id"},
			Optional: []string{"azdo.thread_status"},
			Run:      azdoResolveThread,
		},
		{
			Name:     "azdo.create-pull-request",
			Service:  "azure-devops",
			Summary:  "Create a pull request from the current branch",
			Requires: []string{"azdo.title"},
			Optional: []string{"azdo.description", "azdo.source_branch", "azdo.target_branch", "azdo.draft"},
			Run:      azdoCreatePullRequest,
		},
		{
			Name:     "azdo.approve",
			Service:  "azure-devops",
			Summary:  "Vote approve on the pull request",
			Requires: []string{"azdo.pull_request_id", "azdo.reviewer_id"},
			Run:      azdoVote(azdo.VoteApproved),
		},
		{
			Name:     "azdo.request-changes",
			Service:  "azure-devops",
			Summary:  "Vote waiting-for-author on the pull request",
			Requires: []string{"azdo.pull_request_id", "azdo.reviewer_id"},
			Run:      azdoVote(azdo.VoteWaitingForAuthor),
		},
	}
}

func azdoGetPullRequest(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.AzureDevOps(in.Log)
	if err != nil {
		return nil, err
	}
	id, err := in.Int("azdo.pull_request_id")
	if err != nil {
		return nil, err
	}
	pr, err := client.GetPullRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	threads, err := client.ListThreads(ctx, id)
	if err != nil {
		return nil, err
	}
	details := PullRequestDetails{PullRequest: pr, Threads: threads}
	path, err := env.WriteResultFile(fmt.Sprintf("azdo-pr-%d.json", pr.ID), details)
	if err != nil {
		return nil, err
	}
	details.ResultFile = path
	if err := env.Store.SetMany(ctx, map[string]any{
		"pr.title":  pr.Title,
		"pr.author": pr.CreatedBy.DisplayName,
	}); err != nil {
		in.Log.Warn("store pull request summary", zap.Error(err))
	}
	in.Log.Info("pull request fetched", zap.Int("id", pr.ID), zap.Int("threads", len(threads)))
	return details, nil
}

func azdoAddComment(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.AzureDevOps(in.Log)
	if err != nil {
		return nil, err
	}
	id, err := in.Int("azdo.pull_request_id")
	if err != nil {
		return nil, err
	}
	line := 0
	if in.String("azdo.line") != "" {
		if line, err = in.Int("azdo.line"); err != nil {
			return nil, err
		}
	}
	thread, err := client.CreateThread(ctx, id, in.String("azdo.comment"), in.String("azdo.file_path"), line)
	if err != nil {
		return nil, err
	}
	if err := env.Store.Set(ctx, "azdo.thread_id", thread.ID); err != nil {
		in.Log.Warn("store thread id", zap.Error(err))
	}
	return thread, nil
}

func azdoReplyToThread(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.AzureDevOps(in.Log)
	if err != nil {
		return nil, err
	}
	id, err := in.Int("azdo.pull_request_id")
	if err != nil {
		return nil, err
	}
	threadID, err := in.Int("azdo.thread_id")
	if err != nil {
		return nil, err
	}
	return client.ReplyToThread(ctx, id, threadID, in.String("azdo.reply"))
}

func azdoResolveThread(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.AzureDevOps(in.Log)
	if err != nil {
		return nil, err
	}
	id, err := in.Int("azdo.pull_request_id")
	if err != nil {
		return nil, err
	}
	threadID, err := in.Int("azdo.thread_id")
	if err != nil {
		return nil, err
	}
	status := in.String("azdo.thread_status")
	if status == "" {
		status = "fixed"
	}
	return client.SetThreadStatus(ctx, id, threadID, status)
}

func azdoCreatePullRequest(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.AzureDevOps(in.Log)
	if err != nil {
		return nil, err
	}
	source := in.String("azdo.source_branch")
	if source == "" {
		if source, err = env.CurrentBranch(); err != nil {
			return nil, fmt.Errorf("azdo.source_branch is unset and the current branch is unknown: %w", err)
		}
	}
	target := in.String("azdo.target_branch")
	if target == "" {
		target = "main"
	}
	pr, err := client.CreatePullRequest(ctx, azdo.NewPullRequest{
		SourceBranch: source,
		TargetBranch: target,
		Title:        in.String("azdo.title"),
		Description:  in.String("azdo.description"),
		Draft:        in.String("azdo.draft") == "true",
	})
	if err != nil {
		return nil, err
	}
	if err := env.Store.Set(ctx, "azdo.pull_request_id", pr.ID); err != nil {
		return pr, fmt.Errorf("pull request %d created but not stored: %w", pr.ID, err)
	}
	in.Log.Info("pull request created", zap.Int("id", pr.ID), zap.String("source", source), zap.String("target", target))
	return pr, nil
}

func azdoVote(vote int) func(context.Context, *Env, Input) (any, error) {
	return func(ctx context.Context, env *Env, in Input) (any, error) {
		client, err := env.AzureDevOps(in.Log)
		if err != nil {
			return nil, err
		}
		id, err := in.Int("azdo.pull_request_id")
		if err != nil {
			return nil, err
		}
		return client.Vote(ctx, id, in.String("azdo.reviewer_id"), vote)
	}
}
