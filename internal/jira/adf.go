package jira

import (
	"encoding/json"
	"strconv"
	"strings"
)

// adfNode is an Atlassian Document Format node.
type adfNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []adfNode      `json:"content,omitempty"`
	Version int            `json:"version,omitempty"`
}

// adfDocument wraps plain text into an ADF document with one paragraph per
// line block.
func adfDocument(text string) adfNode {
	doc := adfNode{Type: "doc", Version: 1}
	for _, block := range strings.Split(strings.TrimSpace(text), "\n\n") {
		para := adfNode{Type: "paragraph"}
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			if i > 0 {
				para.Content = append(para.Content, adfNode{Type: "hardBreak"})
			}
			if line != "" {
				para.Content = append(para.Content, adfNode{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}

// flattenDescription turns a description field into plain text. Jira v3
// returns ADF; older payloads carry a plain string.
func flattenDescription(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	writeADF(&b, doc, "")
	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func writeADF(b *strings.Builder, n adfNode, indent string) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		b.WriteString("\n" + indent)
	case "mention", "emoji":
		if t, ok := n.Attrs["text"].(string); ok {
			b.WriteString(t)
		}
	case "inlineCard":
		if u, ok := n.Attrs["url"].(string); ok {
			b.WriteString(u)
		}
	case "paragraph", "heading":
		for _, c := range n.Content {
			writeADF(b, c, indent)
		}
		b.WriteString("\n\n")
	case "codeBlock":
		b.WriteString("```\n")
		for _, c := range n.Content {
			writeADF(b, c, indent)
		}
		b.WriteString("\n```\n\n")
	case "bulletList", "orderedList":
		for i, item := range n.Content {
			marker := "- "
			if n.Type == "orderedList" {
				marker = strconv.Itoa(i+1) + ". "
			}
			b.WriteString(indent + marker)
			var inner strings.Builder
			for _, c := range item.Content {
				writeADF(&inner, c, indent+"  ")
			}
			b.WriteString(strings.TrimSpace(inner.String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	default:
		for _, c := range n.Content {
			writeADF(b, c, indent)
		}
	}
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
