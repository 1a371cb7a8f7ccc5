package actions

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"agdt/internal/events"
	"agdt/internal/sdd"
)

func sddActions() []*Action {
	return []*Action{
		{
			Name:     "sdd.issue-to-spec",
			Service:  "github",
			Summary:  "Render specs/<n>-<slug>/spec.md from a GitHub issue",
			Requires: []string{"github.issue_number"},
			Optional: []string{"sdd.force"},
			Run:      sddIssueToSpec,
		},
	}
}

func sddIssueToSpec(ctx context.Context, env *Env, in Input) (any, error) {
	client, err := env.GitHub(ctx, in.Log)
	if err != nil {
		return nil, err
	}
	number, err := in.Int("github.issue_number")
	if err != nil {
		return nil, err
	}
	issue, err := client.GetIssue(ctx, number)
	if err != nil {
		return nil, err
	}
	gen, err := sdd.IssueToSpec(env.Fs, env.Workspace, env.Config.SpecsPath(env.Workspace), sdd.Issue{
		Number: issue.Number,
		Title:  issue.Title,
		Body:   issue.Body,
		URL:    issue.URL,
		Labels: issue.Labels,
	}, env.now(), in.String("sdd.force") == "true")
	if err != nil {
		return nil, err
	}
	if err := env.Ledger.Record(ctx, events.SpecGenerated, "sdd", strconv.Itoa(number), events.EventPayload{
		"path":    gen.Path,
		"missing": gen.Missing,
		"task_id": in.TaskID,
	}); err != nil {
		in.Log.Warn("record spec event", zap.Error(err))
	}
	in.Log.Info("spec generated", zap.String("path", gen.Path), zap.Strings("missing", gen.Missing))
	return gen, nil
}
