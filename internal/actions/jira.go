package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agdt/internal/jira"
)

// FetchedIssue is the result of jira.fetch-issue.
type FetchedIssue struct {
	jira.Issue
	ResultFile string `json:"result_file"`
}

func jiraActions() []*Action {
	return []*Action{
		{
			Name:     "jira.fetch-issue",
			Service:  "jira",
			Summary:  "Fetch an issue into jira-issue-<KEY>.json",
			Requires: []string{"jira.issue_key"},
			Run:      jiraFetchIssue,
		},
		{
			Name:     "jira.add-comment",
			Service:  "jira",
			Summary:  "Comment on the current issue",
			Requires: []string{"jira.issue_key", "jira.comment"},
			Run:      jiraAddComment,
		},
		{
			Name:     "jira.create-issue",
			Service:  "jira",
			Summary:  "Create an issue and store its key",
			Requires: []string{"jira.project_key", "jira.summary"},
			Optional: []string{"jira.description", "jira.issue_type", "jira.labels"},
			Run:      jiraCreateIssue,
		},
		{
			Name:     "jira.search",
			Service:  "jira",
			Summary:  "Run a JQL query into jira-search.json",
			Requires: []string{"jira.jql"},
			Optional: []string{"jira.max_results"},
			Run:      jiraSearch,
		},
	}
}

func jiraFetchIssue(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.Jira(in.Log)
	if err != nil {
		return nil, err
	}
	issue, err := client.GetIssue(ctx, in.String("jira.issue_key"))
	if err != nil {
		return nil, err
	}
	path, err := env.WriteResultFile(fmt.Sprintf("jira-issue-%s.json", issue.Key), issue)
	if err != nil {
		return nil, err
	}
	in.Log.Info("issue fetched", zap.String("key", issue.Key), zap.String("result_file", path))
	return FetchedIssue{Issue: issue, ResultFile: path}, nil
}

func jiraAddComment(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.Jira(in.Log)
	if err != nil {
		return nil, err
	}
	key := in.String("jira.issue_key")
	comment, err := client.AddComment(ctx, key, in.String("jira.comment"))
	if err != nil {
		return nil, err
	}
	in.Log.Info("comment added", zap.String("key", key), zap.String("comment_id", comment.ID))
	return comment, nil
}

func jiraCreateIssue(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.Jira(in.Log)
	if err != nil {
		return nil, err
	}
	created, err := client.CreateIssue(ctx, jira.NewIssue{
		ProjectKey:  in.String("jira.project_key"),
		IssueType:   in.String("jira.issue_type"),
		Summary:     in.String("jira.summary"),
		Description: in.String("jira.description"),
		Labels:      in.List("jira.labels"),
	})
	if err != nil {
		return nil, err
	}
	if err := env.Store.Set(ctx, "jira.issue_key", created.Key); err != nil {
		return created, fmt.Errorf("issue %s created but not stored: %w", created.Key, err)
	}
	in.Log.Info("issue created", zap.String("key", created.Key))
	return created, nil
}

func jiraSearch(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.Jira(in.Log)
	if err != nil {
		return nil, err
	}
	max := 50
	if in.String("jira.max_results") != "" {
		if max, err = in.Int("jira.max_results"); err != nil {
			return nil, err
		}
	}
	issues, err := client.SearchIssues(ctx, in.String("jira.jql"), max)
	if err != nil {
		return nil, err
	}
	path, err := env.WriteResultFile("jira-search.json", issues)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(issues), "result_file": path}, nil
}
