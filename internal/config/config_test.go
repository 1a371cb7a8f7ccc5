package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "scripts/temp", cfg.Paths.TempDir)
	assert.Equal(t, "agdt-state.json", cfg.Paths.StateFile)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.StateLock.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Timeouts.PollInterval.Std())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 4, cfg.Workers.Size)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("jira:\n  base_url: https://example.atlassian.net\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.atlassian.net", cfg.Jira.BaseURL)
	assert.Equal(t, "scripts/temp", cfg.Paths.TempDir)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.HTTPRequest.Std())
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	_, err := FromYAML([]byte("timeouts:\n  state_lock: nope\n"))
	require.Error(t, err)

	_, err = FromYAML([]byte("paths:\n  state_file: nested/state.json\n"))
	require.ErrorContains(t, err, "state_file")

	_, err = FromYAML([]byte("retry:\n  max_attempts: 0\n"))
	require.ErrorContains(t, err, "max_attempts")
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "agdt.yml"), []byte("workers:\n  size: 2\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers.Size)

	_, err = Load(t.TempDir())
	require.ErrorContains(t, err, "not found")
}

func TestPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("ws", "scripts", "temp", "agdt-state.json"), cfg.StatePath("ws"))
	assert.Equal(t, filepath.Join("ws", "scripts", "temp", "tasks"), cfg.TasksPath("ws"))
	cfg.Paths.TempDir = "/abs/temp"
	assert.Equal(t, filepath.Join("/abs/temp", "tasks"), cfg.TasksPath("ws"))
}

func TestSecretsFromEnv(t *testing.T) {
	env := map[string]string{
		"JIRA_EMAIL":           "dev@example.com",
		"JIRA_API_TOKEN":       " tok ",
		"AZURE_DEVOPS_EXT_PAT": "pat",
		"GH_TOKEN":             "ghp",
	}
	s := SecretsFromEnv(func(k string) string { return env[k] })
	assert.Equal(t, "dev@example.com", s.JiraEmail)
	assert.Equal(t, "tok", s.JiraAPIToken)
	assert.Equal(t, "pat", s.AzureDevOpsPA)
	assert.Equal(t, "ghp", s.GitHubToken)
	assert.Empty(t, s.JWTSecret)
}
