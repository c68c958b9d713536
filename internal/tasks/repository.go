package tasks

import (
	"context"
	"fmt"

	"github.com/starford/tasklink/internal/linkref"
	"github.com/starford/tasklink/internal/models"
)

// DocumentLister lists indexed documents under a folder ("" for all).
type DocumentLister interface {
	ListDocuments(ctx context.Context, folder string) ([]models.Document, error)
}

// Repository reads the task-record set from the index.
type Repository struct {
	docs       DocumentLister
	classifier Classifier
	linksKey   string
}

// NewRepository creates a task repository for the given schema.
func NewRepository(docs DocumentLister, settings Settings) *Repository {
	return &Repository{
		docs:       docs,
		classifier: NewClassifier(settings),
		linksKey:   settings.Fields.Projects,
	}
}

// ListTasks returns every document in the vault that the classifier accepts,
// with the raw entries of its link-list field.
func (r *Repository) ListTasks(ctx context.Context) ([]models.TaskRecord, error) {
	docs, err := r.docs.ListDocuments(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("tasks: list documents: %w", err)
	}
	var out []models.TaskRecord
	for _, d := range docs {
		if !r.classifier.IsTaskRecord(d.Frontmatter) {
			continue
		}
		out = append(out, models.TaskRecord{
			Path:  d.Path,
			Title: d.Title,
			Links: linkref.Entries(d.Frontmatter[r.linksKey]),
		})
	}
	return out, nil
}

// IsTask reports whether a metadata bag is a task under this schema.
func (r *Repository) IsTask(fm map[string]any) bool {
	return r.classifier.IsTaskRecord(fm)
}
