// Package gitinfo reads branch and remote details of the workspace clone
// to default pull request fields.
package gitinfo

import (
	"errors"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Remote is a parsed hosting location.
type Remote struct {
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	// Project is set for Azure DevOps remotes; Owner then holds the
	// organization.
	Project string `json:"project,omitempty"`
}

func (r Remote) IsGitHub() bool { return strings.Contains(r.Host, "github") }
func (r Remote) IsAzureDevOps() bool {
	return strings.Contains(r.Host, "dev.azure.com") || strings.HasSuffix(r.Host, "visualstudio.com")
}

// Info describes the clone containing a directory.
type Info struct {
	Root      string `json:"root"`
	Branch    string `json:"branch,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
	Remote    Remote `json:"remote"`
}

var ErrNotRepository = errors.New("not inside a git repository")

// Detect opens the repository containing dir. Branch is empty on a detached
// HEAD or before the first commit; Remote is empty without an origin.
func Detect(dir string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, ErrNotRepository
		}
		return Info{}, err
	}
	var info Info
	if wt, err := repo.Worktree(); err == nil {
		info.Root = wt.Filesystem.Root()
	}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.RemoteURL = urls[0]
			info.Remote, _ = ParseRemote(urls[0])
		}
	}
	return info, nil
}

// ParseRemote understands GitHub and Azure DevOps remotes in HTTPS and SSH
// form.
func ParseRemote(raw string) (Remote, error) {
	raw = strings.TrimSpace(raw)
	var host, path string
	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Remote{}, err
		}
		host, path = u.Hostname(), u.Path
	case strings.Contains(raw, ":"):
		// scp-like: git@github.com:owner/repo.git
		at := strings.LastIndex(raw[:strings.Index(raw, ":")], "@")
		hostPart := raw[at+1 : strings.Index(raw, ":")]
		host, path = hostPart, raw[strings.Index(raw, ":")+1:]
	default:
		return Remote{}, errors.New("unrecognized remote url " + raw)
	}
	parts := strings.FieldsFunc(strings.TrimSuffix(path, ".git"), func(r rune) bool { return r == '/' })
	r := Remote{Host: host}
	switch {
	case host == "ssh.dev.azure.com" && len(parts) == 4 && parts[0] == "v3":
		r.Host = "dev.azure.com"
		r.Owner, r.Project, r.Repo = parts[1], parts[2], parts[3]
	case host == "dev.azure.com" && len(parts) == 4 && parts[2] == "_git":
		r.Owner, r.Project, r.Repo = parts[0], parts[1], parts[3]
	case strings.HasSuffix(host, ".visualstudio.com") && len(parts) == 3 && parts[1] == "_git":
		r.Owner = strings.TrimSuffix(host, ".visualstudio.com")
		r.Project, r.Repo = parts[0], parts[2]
	case len(parts) >= 2:
		r.Owner, r.Repo = parts[len(parts)-2], parts[len(parts)-1]
	default:
		return Remote{}, errors.New("unrecognized remote url " + raw)
	}
	return r, nil
}
