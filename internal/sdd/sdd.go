// Package sdd installs the spec-driven-development scaffold into a
// workspace and renders specs from GitHub issues.
package sdd

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/afero"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"agdt/internal/fsutil"
	"agdt/internal/prompt"
)

//go:embed all:scaffold
var scaffold embed.FS

const (
	scaffoldRoot     = "scaffold"
	specTemplatePath = ".specify/templates/spec-template.md"
	SpecsDir         = "specs"
	maxSlugRunes     = 48
)

// File actions reported by Init.
const (
	Wrote       = "wrote"
	Skipped     = "skipped"
	Overwritten = "overwritten"
)

var ErrSpecExists = errors.New("spec already exists")

// FileResult is what Init did with one scaffold file.
type FileResult struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

// Files lists the scaffold paths relative to the workspace.
func Files() ([]string, error) {
	var out []string
	err := fs.WalkDir(scaffold, scaffoldRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		out = append(out, strings.TrimPrefix(p, scaffoldRoot+"/"))
		return nil
	})
	return out, err
}

// Init writes the scaffold into workspace. Existing files are kept unless
// force is set.
func Init(afs afero.Fs, workspace string, force bool) ([]FileResult, error) {
	files, err := Files()
	if err != nil {
		return nil, err
	}
	results := make([]FileResult, 0, len(files))
	for _, rel := range files {
		dest := filepath.Join(workspace, filepath.FromSlash(rel))
		exists, err := afero.Exists(afs, dest)
		if err != nil {
			return results, fmt.Errorf("stat %s: %w", dest, err)
		}
		action := Wrote
		if exists {
			if !force {
				results = append(results, FileResult{Path: rel, Action: Skipped})
				continue
			}
			action = Overwritten
		}
		data, err := scaffold.ReadFile(path.Join(scaffoldRoot, rel))
		if err != nil {
			return results, err
		}
		if err := fsutil.WriteFileAtomic(afs, dest, data); err != nil {
			return results, fmt.Errorf("write %s: %w", dest, err)
		}
		results = append(results, FileResult{Path: rel, Action: action})
	}
	return results, nil
}

// Slug folds title to lower-case ASCII words joined by dashes.
func Slug(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	dash := false
	n := 0
	for _, r := range strings.ToLower(folded) {
		if n >= maxSlugRunes {
			break
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
				n++
			}
			b.WriteRune(r)
			n++
			dash = false
		default:
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "spec"
	}
	return slug
}

// Issue is the GitHub issue a spec is rendered from.
type Issue struct {
	Number int
	Title  string
	Body   string
	URL    string
	Labels []string
}

// SpecDir names the directory of the spec for issue.
func SpecDir(issue Issue) string {
	return strconv.Itoa(issue.Number) + "-" + Slug(issue.Title)
}

// Generated describes a rendered spec.
type Generated struct {
	Path    string   `json:"path"`
	Missing []string `json:"missing,omitempty"`
}

// IssueToSpec renders the spec template for issue into
// <specsPath>/<n>-<slug>/spec.md, specsPath defaulting to <workspace>/specs.
// The workspace copy of the template wins over the embedded one.
func IssueToSpec(afs afero.Fs, workspace, specsPath string, issue Issue, now time.Time, force bool) (Generated, error) {
	if issue.Number <= 0 {
		return Generated{}, fmt.Errorf("issue number must be positive, got %d", issue.Number)
	}
	tmpl, err := loadSpecTemplate(afs, workspace)
	if err != nil {
		return Generated{}, err
	}
	if specsPath == "" {
		specsPath = filepath.Join(workspace, SpecsDir)
	}
	dest := filepath.Join(specsPath, SpecDir(issue), "spec.md")
	if !force {
		exists, err := afero.Exists(afs, dest)
		if err != nil {
			return Generated{}, err
		}
		if exists {
			return Generated{}, fmt.Errorf("%w: %s (use --force to overwrite)", ErrSpecExists, dest)
		}
	}
	ctx := prompt.Context{
		"issue.number":    issue.Number,
		"issue.title":     issue.Title,
		"issue.url":       issue.URL,
		"issue.body":      strings.TrimSpace(issue.Body),
		"spec.created_at": now.UTC().Format("2006-01-02"),
	}
	if len(issue.Labels) > 0 {
		ctx["issue.labels"] = strings.Join(issue.Labels, ", ")
	}
	out := tmpl.Render(ctx)
	if err := fsutil.WriteFileAtomic(afs, dest, []byte(out.Text)); err != nil {
		return Generated{}, fmt.Errorf("write spec: %w", err)
	}
	return Generated{Path: dest, Missing: out.Missing}, nil
}

func loadSpecTemplate(afs afero.Fs, workspace string) (*prompt.Template, error) {
	local := filepath.Join(workspace, filepath.FromSlash(specTemplatePath))
	data, err := afero.ReadFile(afs, local)
	if errors.Is(err, os.ErrNotExist) {
		data, err = scaffold.ReadFile(path.Join(scaffoldRoot, specTemplatePath))
	}
	if err != nil {
		return nil, fmt.Errorf("read spec template: %w", err)
	}
	return prompt.Parse("spec-template", data)
}
