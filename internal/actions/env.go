package actions

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"agdt/internal/apiclient"
	"agdt/internal/azdo"
	"agdt/internal/config"
	"agdt/internal/fsutil"
	"agdt/internal/github"
	"agdt/internal/gitinfo"
	"agdt/internal/jira"
	"agdt/internal/ledger"
	"agdt/internal/state"
)

// Env is what actions run against: the workspace, its configuration and
// state, and the credentials to reach external services.
type Env struct {
	Workspace string
	Config    *config.Config
	Secrets   config.Secrets
	Store     *state.Store
	Fs        afero.Fs
	Log       *zap.Logger
	Now       func() time.Time
	// Git inspects the workspace repository; nil means gitinfo.Detect.
	Git func(dir string) (gitinfo.Info, error)
	// Ledger may be nil.
	Ledger *ledger.Ledger
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Env) apiOptions(log *zap.Logger) apiclient.Options {
	return apiclient.OptionsFromConfig(e.Config, log)
}

// Jira builds a Jira client from config and secrets.
func (e *Env) Jira(log *zap.Logger) (*jira.Client, error) {
	email := e.Secrets.JiraEmail
	if email == "" {
		email = e.Config.Jira.Email
	}
	return jira.New(e.Config.Jira.BaseURL, email, e.Secrets.JiraAPIToken, e.apiOptions(log))
}

// AzureDevOps builds an Azure DevOps client. Organization, project and
// repository fall back to the origin remote.
func (e *Env) AzureDevOps(log *zap.Logger) (*azdo.Client, error) {
	c := e.Config.AzureDevOps
	org, project, repo := c.Organization, c.Project, c.Repository
	if org == "" || project == "" || repo == "" {
		if info, err := e.gitInfo(); err == nil && info.Remote.IsAzureDevOps() {
			if org == "" {
				org = info.Remote.Owner
			}
			if project == "" {
				project = info.Remote.Project
			}
			if repo == "" {
				repo = info.Remote.Repo
			}
		}
	}
	return azdo.New(c.BaseURL, org, project, repo, e.Secrets.AzureDevOpsPA, e.apiOptions(log))
}

// GitHub builds a GitHub client. Owner and repo fall back to the origin
// remote.
func (e *Env) GitHub(ctx context.Context, log *zap.Logger) (*github.Client, error) {
	c := e.Config.GitHub
	owner, repo := c.Owner, c.Repo
	if owner == "" || repo == "" {
		if info, err := e.gitInfo(); err == nil && info.Remote.IsGitHub() {
			if owner == "" {
				owner = info.Remote.Owner
			}
			if repo == "" {
				repo = info.Remote.Repo
			}
		}
	}
	return github.New(ctx, c.BaseURL, owner, repo, e.Secrets.GitHubToken, e.apiOptions(log))
}

func (e *Env) gitInfo() (gitinfo.Info, error) {
	detect := e.Git
	if detect == nil {
		detect = gitinfo.Detect
	}
	return detect(e.Workspace)
}

// CurrentBranch is the checked-out branch of the workspace repository.
func (e *Env) CurrentBranch() (string, error) {
	info, err := e.gitInfo()
	if err != nil {
		return "", err
	}
	if info.Branch == "" {
		return "", fmt.Errorf("repository at %s has a detached HEAD", info.Root)
	}
	return info.Branch, nil
}

// TempPath is the directory named result files are written to.
func (e *Env) TempPath() string {
	return e.Config.TempPath(e.Workspace)
}

// WriteResultFile stores v as JSON under the temp directory and returns
// the path.
func (e *Env) WriteResultFile(name string, v any) (string, error) {
	p := filepath.Join(e.TempPath(), name)
	if err := fsutil.WriteJSON(e.Fs, p, v); err != nil {
		return "", fmt.Errorf("write result file: %w", err)
	}
	return p, nil
}
