// Package dedup finds source documents that already have a linked task.
//
// Detection only looks at task link-list entries; it never reads document
// bodies. Cost is O(sources × tasks), which is fine for batches of a few
// hundred documents.
package dedup

import (
	"context"
	"fmt"

	"github.com/starford/tasklink/internal/linkref"
	"github.com/starford/tasklink/internal/models"
)

// TaskSource provides the full task-record set.
type TaskSource interface {
	ListTasks(ctx context.Context) ([]models.TaskRecord, error)
}

// Report is the outcome of a duplicate check.
type Report struct {
	// LinkedPaths lists, in input order, every source with at least one task.
	LinkedPaths []string `json:"linked_paths"`
	// SourceToTasks maps each linked source to the paths of its tasks.
	SourceToTasks map[string][]string `json:"source_to_tasks"`

	linked map[string]struct{}
}

// HasTask reports whether path was found linked.
func (r *Report) HasTask(path string) bool {
	if r == nil {
		return false
	}
	_, ok := r.linked[path]
	return ok
}

// Detector runs duplicate checks against a TaskSource.
type Detector struct {
	tasks TaskSource
}

// NewDetector creates a detector.
func NewDetector(tasks TaskSource) *Detector {
	return &Detector{tasks: tasks}
}

// CheckForDuplicates loads the task-record set once and matches every
// source path against it.
func (d *Detector) CheckForDuplicates(ctx context.Context, sourcePaths []string) (*Report, error) {
	records, err := d.tasks.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup: list tasks: %w", err)
	}
	return Find(records, sourcePaths), nil
}

// Find matches source paths against records. Repeated source paths are
// reported once.
func Find(records []models.TaskRecord, sourcePaths []string) *Report {
	r := &Report{
		LinkedPaths:   []string{},
		SourceToTasks: make(map[string][]string),
		linked:        make(map[string]struct{}),
	}
	for _, src := range sourcePaths {
		if _, seen := r.linked[src]; seen {
			continue
		}
		var hits []string
		for _, t := range records {
			if linkref.LinksTo(t.Links, src) {
				hits = append(hits, t.Path)
			}
		}
		if len(hits) == 0 {
			continue
		}
		r.linked[src] = struct{}{}
		r.LinkedPaths = append(r.LinkedPaths, src)
		r.SourceToTasks[src] = hits
	}
	return r
}
