package querywatch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/tasks"
)

var inFolderRe = regexp.MustCompile(`(?:file\.)?inFolder\(\s*(?:"([^"]*)"|'([^']*)')\s*\)`)

// DocumentLister lists indexed documents under a folder.
type DocumentLister interface {
	ListDocuments(ctx context.Context, folder string) ([]models.Document, error)
}

// FallbackEvaluator resolves a saved query without a live view. It only
// understands folder membership: inFolder("X") or file.inFolder("X"),
// optionally joined with ||. Anything else yields apperr.ErrUnsupportedQuery.
type FallbackEvaluator struct {
	defs       DefinitionStore
	docs       DocumentLister
	classifier tasks.Classifier
	statusKey  string
}

// NewFallbackEvaluator creates the folder-membership evaluator.
func NewFallbackEvaluator(defs DefinitionStore, docs DocumentLister, settings tasks.Settings) *FallbackEvaluator {
	return &FallbackEvaluator{
		defs:       defs,
		docs:       docs,
		classifier: tasks.NewClassifier(settings),
		statusKey:  settings.Fields.Status,
	}
}

// Evaluate reads the definition at queryPath and returns matching documents
// ordered by path.
func (e *FallbackEvaluator) Evaluate(ctx context.Context, queryPath string) ([]models.NotificationItem, error) {
	data, err := e.defs.Read(queryPath)
	if err != nil {
		return nil, fmt.Errorf("querywatch: read %s: %w", queryPath, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	folders, err := ParseFolders(def.Source)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.NotificationItem
	for _, folder := range folders {
		docs, err := e.docs.ListDocuments(ctx, folder)
		if err != nil {
			return nil, fmt.Errorf("querywatch: list %q: %w: %v", folder, apperr.ErrEvaluation, err)
		}
		for _, d := range docs {
			if _, dup := seen[d.Path]; dup {
				continue
			}
			seen[d.Path] = struct{}{}
			out = append(out, e.item(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (e *FallbackEvaluator) item(d models.Document) models.NotificationItem {
	it := models.NotificationItem{
		Path:   d.Path,
		Title:  d.Title,
		IsTask: e.classifier.IsTaskRecord(d.Frontmatter),
	}
	if it.Title == "" {
		it.Title = strings.TrimSuffix(d.Path[strings.LastIndex(d.Path, "/")+1:], ".md")
	}
	if it.IsTask && e.statusKey != "" {
		if s, ok := d.Frontmatter[e.statusKey].(string); ok {
			it.Status = s
		}
	}
	return it
}

// ParseFolders extracts the folders of a folder-membership filter. The
// filter must consist only of inFolder calls joined with ||.
func ParseFolders(source string) ([]string, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, fmt.Errorf("querywatch: empty source: %w", apperr.ErrUnsupportedQuery)
	}
	var folders []string
	for _, part := range strings.Split(src, "||") {
		part = strings.TrimSpace(part)
		for strings.HasPrefix(part, "(") && strings.HasSuffix(part, ")") {
			part = strings.TrimSpace(part[1 : len(part)-1])
		}
		m := inFolderRe.FindStringSubmatch(part)
		if m == nil || m[0] != part {
			return nil, fmt.Errorf("querywatch: %q: %w", part, apperr.ErrUnsupportedQuery)
		}
		folder := m[1]
		if folder == "" {
			folder = m[2]
		}
		folders = append(folders, strings.Trim(folder, "/"))
	}
	return folders, nil
}
