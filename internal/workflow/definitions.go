// Package workflow sequences the prompt-driven multi-step workflows and
// keeps the active instance in the state store.
package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Step is a named step of a workflow.
type Step string

const (
	Initiate Step = "initiate"
	Complete Step = "complete"

	FileReview Step = "file-review"
	Summary    Step = "summary"
	Decision   Step = "decision"

	Draft  Step = "draft"
	Review Step = "review"
	Submit Step = "submit"

	Planning       Step = "planning"
	Implementation Step = "implementation"
	Verification   Step = "verification"
	PullRequest    Step = "pull-request"
)

// Definition is a workflow type with its fixed transition table.
type Definition struct {
	Name        string
	Description string
	Steps       []Step
	Transitions map[Step][]Step
	// Counters are the instance counters, all starting at zero.
	Counters []string
	// LeaveCounters are incremented each time the instance leaves the step.
	LeaveCounters map[Step]string
	// EntityKey, when set, mirrors the entity id into that state key.
	EntityKey string
}

// Allowed returns the successor steps of from.
func (d *Definition) Allowed(from Step) []Step {
	return d.Transitions[from]
}

// CanAdvance reports whether to is a successor of from.
func (d *Definition) CanAdvance(from, to Step) bool {
	for _, s := range d.Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (d *Definition) HasStep(s Step) bool {
	for _, step := range d.Steps {
		if step == s {
			return true
		}
	}
	return false
}

func (d *Definition) hasCounter(name string) bool {
	for _, c := range d.Counters {
		if c == name {
			return true
		}
	}
	return false
}

// PromptID is the prompt template rendered for step.
func (d *Definition) PromptID(step Step) string {
	return d.Name + "." + string(step)
}

var PullRequestReview = &Definition{
	Name:        "pull-request-review",
	Description: "Review a pull request file by file, summarise and decide.",
	Steps:       []Step{Initiate, FileReview, Summary, Decision, Complete},
	Transitions: map[Step][]Step{
		Initiate:   {FileReview},
		FileReview: {FileReview, Summary},
		Summary:    {Decision, FileReview},
		Decision:   {Complete, FileReview},
	},
	Counters:      []string{"files_reviewed", "approvals", "change_requests"},
	LeaveCounters: map[Step]string{FileReview: "files_reviewed"},
}

var CreateJiraIssue = &Definition{
	Name:        "create-jira-issue",
	Description: "Draft, review and submit a new Jira issue.",
	Steps:       []Step{Initiate, Draft, Review, Submit, Complete},
	Transitions: map[Step][]Step{
		Initiate: {Draft},
		Draft:    {Review},
		Review:   {Submit, Draft},
		Submit:   {Complete},
	},
	Counters:      []string{"revisions"},
	LeaveCounters: map[Step]string{Draft: "revisions"},
	EntityKey:     "jira.project_key",
}

var WorkOnJiraIssue = &Definition{
	Name:        "work-on-jira-issue",
	Description: "Plan, implement, verify and open a pull request for a Jira issue.",
	Steps:       []Step{Initiate, Planning, Implementation, Verification, PullRequest, Complete},
	Transitions: map[Step][]Step{
		Initiate:       {Planning},
		Planning:       {Implementation},
		Implementation: {Implementation, Verification},
		Verification:   {PullRequest, Implementation},
		PullRequest:    {Complete},
	},
	Counters:      []string{"iterations"},
	LeaveCounters: map[Step]string{Implementation: "iterations"},
	EntityKey:     "jira.issue_key",
}

var registry = map[string]*Definition{
	PullRequestReview.Name: PullRequestReview,
	CreateJiraIssue.Name:   CreateJiraIssue,
	WorkOnJiraIssue.Name:   WorkOnJiraIssue,
}

// Lookup returns the definition named name.
func Lookup(name string) (*Definition, error) {
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the known workflow names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all definitions sorted by name.
func Definitions() []*Definition {
	out := make([]*Definition, 0, len(registry))
	for _, n := range Names() {
		out = append(out, registry[n])
	}
	return out
}
