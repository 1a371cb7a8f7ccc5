package config

import (
	"os"
	"strings"
)

// Secrets are credentials read from the environment; they never live in
// agdt.yml or the state file.
type Secrets struct {
	JiraEmail     string
	JiraAPIToken  string
	AzureDevOpsPA string
	GitHubToken   string
	JWTSecret     string
}

// SecretsFromEnv reads credentials using the given lookup (os.Getenv when nil).
func SecretsFromEnv(getenv func(string) string) Secrets {
	if getenv == nil {
		getenv = os.Getenv
	}
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	return Secrets{
		JiraEmail:     first("JIRA_EMAIL"),
		JiraAPIToken:  first("JIRA_API_TOKEN", "JIRA_TOKEN"),
		AzureDevOpsPA: first("AZURE_DEVOPS_PAT", "AZURE_DEVOPS_EXT_PAT"),
		GitHubToken:   first("GITHUB_TOKEN", "GH_TOKEN"),
		JWTSecret:     first("AGDT_JWT_SECRET"),
	}
}
