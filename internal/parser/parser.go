// Package parser reads and edits the YAML frontmatter of Markdown documents.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Result is a parsed document.
type Result struct {
	// Frontmatter is nil when the document has no valid frontmatter block.
	Frontmatter map[string]any
	Body        string
	Tags        []string
	Title       string
}

// Parse splits raw Markdown into frontmatter and body and derives the
// document title and tags. Broken frontmatter is treated as body.
func Parse(data []byte) (*Result, error) {
	res := &Result{Body: string(data)}

	if block, rest, ok := splitRaw(data); ok {
		var fm map[string]any
		if err := yaml.Unmarshal(block, &fm); err == nil {
			res.Frontmatter = fm
			res.Body = strings.TrimLeft(string(rest), "\n\r")
		}
	}

	res.Title = title(res.Frontmatter, res.Body)
	res.Tags = tags(res.Frontmatter, res.Body)
	return res, nil
}

// splitRaw separates the YAML block between leading --- delimiters from the
// rest of the file. ok is false when the file has no frontmatter block.
// rest is the content after the closing delimiter line, untouched.
func splitRaw(data []byte) (block []byte, rest []byte, ok bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, data, false
	}

	after := trimmed[len(delim):]
	idx := bytes.Index(after, []byte("\n"+delim))
	if idx < 0 {
		return nil, data, false
	}

	block = after[:idx]
	rest = after[idx+1+len(delim):]
	// Drop the remainder of the closing delimiter line.
	if nl := bytes.IndexByte(rest, '\n'); nl >= 0 && len(bytes.TrimSpace(rest[:nl])) == 0 {
		rest = rest[nl+1:]
	} else if len(bytes.TrimSpace(rest)) == 0 {
		rest = nil
	}
	return block, rest, true
}

// tags merges the frontmatter "tags" value (list or scalar) with inline
// #tags from the body. The leading # is dropped and order of first
// appearance is kept.
func tags(fm map[string]any, body string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	switch v := fm["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Fields(strings.ReplaceAll(v, ",", " ")) {
			add(s)
		}
	}

	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// title is the frontmatter title, else the first H1 heading, else "".
func title(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	for line := range strings.SplitSeq(body, "\n") {
		if h, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(h)
		}
	}
	return ""
}
