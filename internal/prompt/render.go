package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"agdt/internal/state"
)

//go:embed templates/*.md
var embedded embed.FS

// ErrUnknownTemplate is returned for an id with no embedded or override file.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// Context holds the values placeholders resolve against, keyed like state.
type Context map[string]any

// Rendered is the output of one render.
type Rendered struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	Missing []string `json:"missing"`
}

// MissingMarker is what an unresolved required placeholder renders as.
func MissingMarker(key string) string {
	return "[[MISSING: " + key + "]]"
}

// Renderer loads templates from the embedded set, letting files in
// OverrideDir (<id>.md) replace them.
type Renderer struct {
	Fs          afero.Fs
	OverrideDir string
}

func NewRenderer(fs afero.Fs, overrideDir string) *Renderer {
	return &Renderer{Fs: fs, OverrideDir: overrideDir}
}

func validTemplateID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

// Load returns the template for id, preferring an override file.
func (r *Renderer) Load(id string) (*Template, error) {
	if !validTemplateID(id) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	if r.Fs != nil && r.OverrideDir != "" {
		p := filepath.Join(r.OverrideDir, id+".md")
		data, err := afero.ReadFile(r.Fs, p)
		switch {
		case err == nil:
			t, err := Parse(id, data)
			if err != nil {
				return nil, err
			}
			t.Source = p
			return t, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read prompt override %s: %w", p, err)
		}
	}
	data, err := embedded.ReadFile(path.Join("templates", id+".md"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	t, err := Parse(id, data)
	if err != nil {
		return nil, err
	}
	t.Source = "embedded"
	return t, nil
}

// List returns every available template, overrides replacing embedded
// ones, sorted by id.
func (r *Renderer) List() ([]*Template, error) {
	ids := map[string]bool{}
	entries, err := fs.ReadDir(embedded, "templates")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".md") {
			ids[strings.TrimSuffix(e.Name(), ".md")] = true
		}
	}
	if r.Fs != nil && r.OverrideDir != "" {
		overrides, err := afero.ReadDir(r.Fs, r.OverrideDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, e := range overrides {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				ids[strings.TrimSuffix(e.Name(), ".md")] = true
			}
		}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	out := make([]*Template, 0, len(sorted))
	for _, id := range sorted {
		t, err := r.Load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Render loads and renders id.
func (r *Renderer) Render(id string, ctx Context) (Rendered, error) {
	t, err := r.Load(id)
	if err != nil {
		return Rendered{}, err
	}
	return t.Render(ctx), nil
}

// Render fills the template from ctx.
func (t *Template) Render(ctx Context) Rendered {
	optional := make(map[string]bool, len(t.Optional))
	for _, k := range t.Optional {
		optional[k] = true
	}
	rs := &renderState{ctx: ctx, optional: optional, seen: map[string]bool{}}
	var b strings.Builder
	rs.write(&b, t.nodes)
	return Rendered{ID: t.ID, Title: t.Title, Text: b.String(), Missing: rs.missing}
}

type renderState struct {
	ctx      Context
	optional map[string]bool
	seen     map[string]bool
	missing  []string
}

func (rs *renderState) write(b *strings.Builder, nodes []node) {
	for _, n := range nodes {
		switch n.kind {
		case textNode:
			b.WriteString(n.text)
		case varNode:
			v := rs.ctx[n.text]
			switch {
			case !blank(v):
				b.WriteString(state.FormatValue(v))
			case rs.optional[n.text]:
			default:
				b.WriteString(MissingMarker(n.text))
				if !rs.seen[n.text] {
					rs.seen[n.text] = true
					rs.missing = append(rs.missing, n.text)
				}
			}
		case ifNode:
			if truthy(rs.ctx[n.text]) != n.negate {
				rs.write(b, n.then)
			} else {
				rs.write(b, n.orElse)
			}
		}
	}
}

// blank reports whether v renders as nothing: absent, nil or whitespace.
func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// truthy treats absent, nil, "", false and zero as false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != "" && x != "false" && x != "0"
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case fmt.Stringer:
		s := x.String()
		return s != "" && s != "0"
	default:
		return true
	}
}

// ContextFromState copies state values into a render context.
func ContextFromState(values state.Values) Context {
	ctx := make(Context, len(values))
	for k, v := range values {
		ctx[k] = v
	}
	return ctx
}
