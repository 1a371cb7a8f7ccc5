package prompt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Template {
	t.Helper()
	tmpl, err := Parse("test", []byte(src))
	require.NoError(t, err)
	return tmpl
}

func TestRenderAllPresentHasNoMarkers(t *testing.T) {
	tmpl := mustParse(t, "Issue {{jira.issue_key}} in {{ jira.project_key }}")
	out := tmpl.Render(Context{"jira.issue_key": "DFLY-1234", "jira.project_key": "DFLY"})
	assert.Equal(t, "Issue DFLY-1234 in DFLY", out.Text)
	assert.Empty(t, out.Missing)
	assert.NotContains(t, out.Text, "[[MISSING")
}

func TestRenderMarksOnlyMissingKey(t *testing.T) {
	tmpl := mustParse(t, "{{a}} {{b}} {{a}}")
	out := tmpl.Render(Context{"b": "B"})
	assert.Equal(t, "[[MISSING: a]] B [[MISSING: a]]", out.Text)
	assert.Equal(t, []string{"a"}, out.Missing)
}

func TestBlankValueCountsAsMissing(t *testing.T) {
	tmpl := mustParse(t, "---\ntitle: T\noptional: [note]\n---\npull request #{{workflow.entity_id}}{{note}}")
	out := tmpl.Render(Context{"workflow.entity_id": "  ", "note": ""})
	assert.Equal(t, "pull request #[[MISSING: workflow.entity_id]]", out.Text)
	assert.Equal(t, []string{"workflow.entity_id"}, out.Missing)
}

func TestOptionalKeysRenderEmpty(t *testing.T) {
	tmpl := mustParse(t, "---\ntitle: T\noptional: [note]\n---\nx{{note}}y")
	out := tmpl.Render(Context{})
	assert.Equal(t, "xy", out.Text)
	assert.Empty(t, out.Missing)
	assert.Equal(t, "T", out.Title)
}

func TestConditionals(t *testing.T) {
	tmpl := mustParse(t, "{{#if a}}A{{#unless b}}-notB{{/unless}}{{else}}noA{{/if}}|{{#unless c}}noC{{/unless}}")
	cases := []struct {
		ctx  Context
		want string
	}{
		{Context{"a": "x"}, "A-notB|noC"},
		{Context{"a": "x", "b": true}, "A|noC"},
		{Context{"a": "", "c": json.Number("2")}, "noA|"},
		{Context{"a": false, "c": json.Number("0")}, "noA|noC"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tmpl.Render(tc.ctx).Text, "%v", tc.ctx)
	}
}

func TestSkippedBranchDoesNotReportMissing(t *testing.T) {
	tmpl := mustParse(t, "{{#if ready}}{{secret}}{{/if}}")
	out := tmpl.Render(Context{})
	assert.Empty(t, out.Text)
	assert.Empty(t, out.Missing)
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"{{#if a}}open",
		"{{/if}}",
		"{{#if a}}x{{/unless}}",
		"{{else}}",
		"{{#if a}}{{else}}{{else}}{{/if}}",
		"{{}}",
		"---\ntitle: x\nno end",
	}
	for _, src := range bad {
		_, err := Parse("bad", []byte(src))
		assert.True(t, errors.Is(err, ErrSyntax), src)
	}
}

func TestEmbeddedTemplatesParseAndOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewRenderer(fs, "/ws/prompts")

	list, err := r.List()
	require.NoError(t, err)
	require.NotEmpty(t, list)
	for _, tmpl := range list {
		assert.NotEmpty(t, tmpl.Title, tmpl.ID)
		assert.Equal(t, "embedded", tmpl.Source)
	}

	out, err := r.Render("work-on-jira-issue.initiate", Context{"jira.issue_key": "DFLY-1234"})
	require.NoError(t, err)
	assert.Empty(t, out.Missing)
	assert.Contains(t, out.Text, "jira-issue-DFLY-1234.json")

	require.NoError(t, afero.WriteFile(fs, "/ws/prompts/work-on-jira-issue.initiate.md", []byte("custom {{jira.issue_key}}"), 0o644))
	out, err = r.Render("work-on-jira-issue.initiate", Context{"jira.issue_key": "DFLY-1"})
	require.NoError(t, err)
	assert.Equal(t, "custom DFLY-1", out.Text)

	_, err = r.Render("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	_, err = r.Render("../etc/passwd", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestPullRequestPromptListsMissingEntity(t *testing.T) {
	r := NewRenderer(nil, "")
	out, err := r.Render("pull-request-review.summary", Context{"workflow.files_reviewed": json.Number("3")})
	require.NoError(t, err)
	assert.Equal(t, []string{"workflow.entity_id"}, out.Missing)
	assert.True(t, strings.Contains(out.Text, "You reviewed 3 file(s)."))
}
