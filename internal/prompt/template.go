// Package prompt renders the Markdown prompt documents that guide an
// operator (or assistant) through each workflow step.
//
// Templates use a small placeholder syntax:
//
//	{{key}}                       value of key
//	{{#if key}}...{{else}}...{{/if}}
//	{{#unless key}}...{{/unless}}
//
// A required key with no value renders as [[MISSING: key]] and is reported
// in Rendered.Missing. Keys listed under "optional" in the front matter
// render empty instead.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrSyntax = errors.New("prompt template syntax error")

// Template is one parsed prompt document.
type Template struct {
	ID          string   `json:"id" yaml:"-"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Optional    []string `json:"optional,omitempty" yaml:"optional"`
	// Source is "embedded" or the override file path.
	Source string `json:"source" yaml:"-"`
	Body   string `json:"-" yaml:"-"`

	nodes []node
}

type nodeKind int

const (
	textNode nodeKind = iota
	varNode
	ifNode
)

type node struct {
	kind   nodeKind
	text   string // literal text or key
	negate bool
	then   []node
	orElse []node
}

var (
	frontMatterDelim = []byte("---")
	tagPattern       = regexp.MustCompile(`\{\{\s*(?:(#if|#unless)\s+([A-Za-z0-9_.\-]+)|(else)|(/if|/unless)|([A-Za-z0-9_.\-]*))\s*\}\}`)
)

// Parse reads optional YAML front matter followed by the template body.
func Parse(id string, data []byte) (*Template, error) {
	t := &Template{ID: id}
	body := data
	if trimmed := bytes.TrimLeft(data, "\ufeff"); bytes.HasPrefix(trimmed, frontMatterDelim) {
		rest := trimmed[len(frontMatterDelim):]
		end := bytes.Index(rest, []byte("\n---"))
		if end < 0 {
			return nil, fmt.Errorf("%w: %s: unterminated front matter", ErrSyntax, id)
		}
		if err := yaml.Unmarshal(rest[:end], t); err != nil {
			return nil, fmt.Errorf("%w: %s: front matter: %v", ErrSyntax, id, err)
		}
		body = rest[end+len("\n---"):]
		body = bytes.TrimPrefix(bytes.TrimPrefix(body, []byte("\r")), []byte("\n"))
	}
	t.Body = string(body)
	nodes, err := parseNodes(t.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, id, err)
	}
	t.nodes = nodes
	return t, nil
}

type frame struct {
	n      *node
	tag    string
	inElse bool
	parent *[]node
}

func parseNodes(body string) ([]node, error) {
	var root []node
	cur := &root
	var stack []*frame

	pos := 0
	for _, m := range tagPattern.FindAllStringSubmatchIndex(body, -1) {
		if m[0] > pos {
			*cur = append(*cur, node{kind: textNode, text: body[pos:m[0]]})
		}
		pos = m[1]
		var tag, key string
		switch {
		case m[2] >= 0:
			tag, key = body[m[2]:m[3]], body[m[4]:m[5]]
		case m[6] >= 0:
			tag = "else"
		case m[8] >= 0:
			tag = body[m[8]:m[9]]
		default:
			key = body[m[10]:m[11]]
		}
		switch tag {
		case "":
			if key == "" {
				return nil, fmt.Errorf("empty placeholder at offset %d", m[0])
			}
			*cur = append(*cur, node{kind: varNode, text: key})
		case "#if", "#unless":
			f := &frame{n: &node{kind: ifNode, text: key, negate: tag == "#unless"}, tag: tag, parent: cur}
			stack = append(stack, f)
			cur = &f.n.then
		case "else":
			if len(stack) == 0 || stack[len(stack)-1].inElse {
				return nil, fmt.Errorf("unexpected {{else}} at offset %d", m[0])
			}
			f := stack[len(stack)-1]
			f.inElse = true
			cur = &f.n.orElse
		case "/if", "/unless":
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected {{%s}} at offset %d", tag, m[0])
			}
			f := stack[len(stack)-1]
			if "/"+strings.TrimPrefix(f.tag, "#") != tag {
				return nil, fmt.Errorf("{{%s}} closes %s %s at offset %d", tag, f.tag, f.n.text, m[0])
			}
			stack = stack[:len(stack)-1]
			*f.parent = append(*f.parent, *f.n)
			cur = f.parent
		}
	}
	if len(stack) > 0 {
		f := stack[len(stack)-1]
		return nil, fmt.Errorf("unclosed {{%s %s}}", f.tag, f.n.text)
	}
	if pos < len(body) {
		*cur = append(*cur, node{kind: textNode, text: body[pos:]})
	}
	return root, nil
}
