package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/tasklink/internal/tasks"
)

// TaskContract describes the task document format for the given schema, so
// LLM consumers write tasks the classifier and the duplicate detector
// recognise.
func TaskContract(s tasks.Settings) string {
	f := s.Fields
	var marker, markerYAML string
	switch s.Identification.Method {
	case tasks.MethodProperty:
		marker = fmt.Sprintf("the property `%s` set to `%s`", s.Identification.PropertyName, s.Identification.PropertyValue)
		markerYAML = fmt.Sprintf("%s: %s", s.Identification.PropertyName, s.Identification.PropertyValue)
	default:
		marker = fmt.Sprintf("the tag `%s` in the `%s` list", s.Identification.Tag, f.Tags)
		markerYAML = fmt.Sprintf("%s:\n  - %s", f.Tags, s.Identification.Tag)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# tasklink Task Format Contract\n\n")
	fmt.Fprintf(&b, "A task is a Markdown document with YAML frontmatter carrying %s.\n", marker)
	fmt.Fprintf(&b, "New tasks are written to the `%s/` folder.\n\n", s.Folder)

	b.WriteString("## Fields\n\n")
	rows := [][2]string{
		{f.Title, "human-readable title"},
		{f.Status, fmt.Sprintf("workflow state, default `%s`", s.Defaults.Status)},
		{f.Priority, fmt.Sprintf("priority, default `%s`", s.Defaults.Priority)},
		{f.Due, "due date, `YYYY-MM-DD`"},
		{f.Scheduled, "scheduled date, `YYYY-MM-DD`"},
		{f.Contexts, "list of context strings"},
		{f.Projects, "list of links to the source documents this task belongs to"},
		{f.DateCreated, "RFC 3339 creation timestamp"},
		{f.DateModified, "RFC 3339 modification timestamp"},
	}
	for _, r := range rows {
		if r[0] == "" {
			continue
		}
		fmt.Fprintf(&b, "- `%s`: %s\n", r[0], r[1])
	}

	b.WriteString("\n## Links\n\n")
	fmt.Fprintf(&b, "Entries of `%s` are `[[Target]]`, `[[Target|Alias]]`, `[Label](Target)` or a bare path.\n", f.Projects)
	b.WriteString("The target is the document path without the `.md` extension. Quote wikilinks in YAML\n")
	b.WriteString("(`- \"[[Projects/Alpha]]\"`) so they stay strings.\n\n")
	b.WriteString("A source document counts as having a task when any task's link resolves to it,\n")
	b.WriteString("either by full path or by file name alone. Check with `check_duplicates` before\n")
	b.WriteString("creating tasks by hand.\n\n")

	b.WriteString("## Example\n\n```markdown\n---\n")
	fmt.Fprintf(&b, "%s: Review the Alpha draft\n", f.Title)
	fmt.Fprintf(&b, "%s: %s\n", f.Status, s.Defaults.Status)
	fmt.Fprintf(&b, "%s: %s\n", f.Priority, s.Defaults.Priority)
	fmt.Fprintf(&b, "%s: \"2026-03-10\"\n", f.Due)
	fmt.Fprintf(&b, "%s:\n  - \"[[Projects/Alpha]]\"\n", f.Projects)
	fmt.Fprintf(&b, "%s\n", markerYAML)
	b.WriteString("---\n```\n")
	return b.String()
}
