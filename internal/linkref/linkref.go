// Package linkref parses textual document references and decides whether a
// task's link list points at a given source document.
//
// Three reference syntaxes are accepted:
//
//	[[Target]]  [[Target|Alias]]   wikilink
//	[Label](Target)                markdown link
//	Target                         plain path
//
// Matching is deliberately folder-agnostic: a bare [[Report]] links to
// Notes/Report.md and [[Other/Report]] links to Report.md. Two different
// documents sharing a basename therefore match each other.
package linkref

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const docExt = ".md"

var (
	wikilinkRe = regexp.MustCompile(`^!?\[\[([^\]|]*)(?:\|[^\]]*)?\]\]$`)
	mdLinkRe   = regexp.MustCompile(`^!?\[[^\]]*\]\(([^)]*)\)$`)
)

// ExtractTarget returns the trimmed target of a reference, or "" when the
// reference is empty or carries no target.
func ExtractTarget(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if m := wikilinkRe.FindStringSubmatch(ref); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := mdLinkRe.FindStringSubmatch(ref); m != nil {
		target := strings.TrimSpace(m[1])
		target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
		if unescaped, err := url.PathUnescape(target); err == nil {
			target = unescaped
		}
		return strings.TrimSpace(target)
	}
	return ref
}

// Normalize lower-cases p and strips the document extension. It is
// idempotent.
func Normalize(p string) string {
	for {
		next := normalizeOnce(p)
		if next == p {
			return next
		}
		p = next
	}
}

func normalizeOnce(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	p = strings.ToLower(p)
	return strings.TrimSuffix(p, docExt)
}

// Basename returns the last element of a normalized path.
func Basename(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Matches reports whether a single reference points at sourcePath.
func Matches(ref, sourcePath string) bool {
	s := Normalize(sourcePath)
	if s == "" {
		return false
	}
	return matchNormalized(Normalize(ExtractTarget(ref)), s, Basename(s))
}

// LinksTo reports whether any reference in links points at sourcePath.
func LinksTo(links []string, sourcePath string) bool {
	s := Normalize(sourcePath)
	if s == "" {
		return false
	}
	sBase := Basename(s)
	for _, ref := range links {
		if matchNormalized(Normalize(ExtractTarget(ref)), s, sBase) {
			return true
		}
	}
	return false
}

func matchNormalized(p, s, sBase string) bool {
	if p == "" {
		return false
	}
	pBase := Basename(p)
	return p == s ||
		pBase == sBase ||
		strings.HasSuffix(p, "/"+sBase) ||
		strings.HasSuffix(s, "/"+pBase)
}

// Wikilink formats a reference to the document at p.
func Wikilink(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasSuffix(strings.ToLower(p), docExt) {
		p = p[:len(p)-len(docExt)]
	}
	return "[[" + p + "]]"
}

// SameTarget reports whether two references resolve to the same normalized
// target. Unlike Matches it does not fall back to basename comparison.
func SameTarget(a, b string) bool {
	na := Normalize(ExtractTarget(a))
	return na != "" && na == Normalize(ExtractTarget(b))
}

// Entries flattens a link-list frontmatter value into reference strings.
// YAML reads an unquoted [[Target]] as a nested sequence; such entries are
// turned back into wikilinks.
func Entries(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := entryString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(val)}
	}
}

func entryString(item any) string {
	switch e := item.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case []any:
		if len(e) == 1 {
			if s, ok := e[0].(string); ok && s != "" {
				return "[[" + s + "]]"
			}
		}
		return fmt.Sprint(e)
	default:
		return fmt.Sprint(e)
	}
}
