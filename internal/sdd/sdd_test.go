package sdd

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Add retry to Jira client":     "add-retry-to-jira-client",
		"  Café / Crème brûlée!! ":     "cafe-creme-brulee",
		"Ｆｕｌｌｗｉｄｔｈ 123":              "fullwidth-123",
		"日本語":                          "spec",
		"--already--dashed--":          "already-dashed",
		"a very long title that keeps going and going past the limit": "a-very-long-title-that-keeps-going-and-going-pas",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestInitSkipsExistingUnlessForced(t *testing.T) {
	fs := afero.NewMemMapFs()
	files, err := Files()
	require.NoError(t, err)
	assert.Contains(t, files, ".github/workflows/issue-to-spec.yml")
	assert.Contains(t, files, ".specify/memory/constitution.md")

	require.NoError(t, afero.WriteFile(fs, "/ws/.specify/memory/constitution.md", []byte("mine"), 0o644))

	results, err := Init(fs, "/ws", false)
	require.NoError(t, err)
	require.Len(t, results, len(files))
	actions := map[string]string{}
	for _, r := range results {
		actions[r.Path] = r.Action
	}
	assert.Equal(t, Skipped, actions[".specify/memory/constitution.md"])
	assert.Equal(t, Wrote, actions[".specify/templates/spec-template.md"])

	data, err := afero.ReadFile(fs, "/ws/.specify/memory/constitution.md")
	require.NoError(t, err)
	assert.Equal(t, "mine", string(data))

	results, err = Init(fs, "/ws", true)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, Overwritten, r.Action, r.Path)
	}
	data, err = afero.ReadFile(fs, "/ws/.specify/memory/constitution.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Project constitution")
}

func TestIssueToSpec(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	issue := Issue{
		Number: 17,
		Title:  "Support Azure DevOps threads",
		Body:   "Replies should land in the right thread.\n",
		URL:    "https://github.com/acme/tool/issues/17",
		Labels: []string{"spec", "azdo"},
	}

	got, err := IssueToSpec(fs, "/ws", "", issue, now, false)
	require.NoError(t, err)
	assert.Equal(t, "/ws/specs/17-support-azure-devops-threads/spec.md", got.Path)
	assert.Empty(t, got.Missing)

	data, err := afero.ReadFile(fs, got.Path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Feature specification: Support Azure DevOps threads")
	assert.Contains(t, text, "- Issue: #17 (https://github.com/acme/tool/issues/17)")
	assert.Contains(t, text, "- Created: 2024-03-09")
	assert.Contains(t, text, "- Labels: spec, azdo")
	assert.Contains(t, text, "Replies should land in the right thread.")

	_, err = IssueToSpec(fs, "/ws", "", issue, now, false)
	assert.ErrorIs(t, err, ErrSpecExists)
	_, err = IssueToSpec(fs, "/ws", "", issue, now, true)
	assert.NoError(t, err)
}

func TestIssueToSpecPrefersWorkspaceTemplate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/.specify/templates/spec-template.md",
		[]byte("# {{issue.title}}\n{{#unless issue.body}}no body{{/unless}}\n"), 0o644))

	got, err := IssueToSpec(fs, "/ws", "/ws/docs/specs", Issue{Number: 3, Title: "Tiny"}, time.Now(), false)
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, got.Path)
	require.NoError(t, err)
	assert.Equal(t, "# Tiny\nno body\n", string(data))

	_, err = IssueToSpec(fs, "/ws", "", Issue{Title: "zero"}, time.Now(), false)
	assert.Error(t, err)
}
