package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/tasklink/internal/dedup"
	"github.com/starford/tasklink/internal/linkref"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/tasks"
)

const untitledTask = "Untitled task"

// TaskCreator is the task service the generator delegates to.
type TaskCreator interface {
	CreateTask(ctx context.Context, data tasks.TaskData) (tasks.TaskHandle, error)
}

// GenerateOptions controls a generation batch.
type GenerateOptions struct {
	SkipExisting bool
	LinkToSource bool
	// Fields names the source properties copied onto new tasks. The zero
	// value uses tasks.DefaultSettings().Fields.
	Fields tasks.FieldMapping
}

// GenerateResult is the outcome of CreateTasks.
type GenerateResult struct {
	Created int `json:"created"`
	Outcome
	CreatedPaths []string `json:"created_paths"`
}

// PreCheckResult is a dry-run summary of a generation batch.
type PreCheckResult struct {
	ToCreate int      `json:"to_create"`
	ToSkip   int      `json:"to_skip"`
	Existing []string `json:"existing"`
}

// Generator creates one new task per source item.
type Generator struct {
	tasks  TaskCreator
	dups   DuplicateChecker
	logger *slog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(tc TaskCreator, dups DuplicateChecker, logger *slog.Logger) *Generator {
	return &Generator{tasks: tc, dups: dups, logger: logger}
}

// PreCheck counts how many items would be created and skipped.
func (g *Generator) PreCheck(ctx context.Context, items []models.SourceItem, skipExisting bool) (PreCheckResult, error) {
	res := PreCheckResult{Existing: []string{}}
	if !skipExisting {
		res.ToCreate = len(items)
		return res, nil
	}
	report, err := g.dups.CheckForDuplicates(ctx, itemPaths(items))
	if err != nil {
		return PreCheckResult{}, fmt.Errorf("bulk: precheck: %w", err)
	}
	for _, it := range items {
		if report.HasTask(it.Path) {
			res.ToSkip++
			res.Existing = append(res.Existing, it.Path)
		} else {
			res.ToCreate++
		}
	}
	return res, nil
}

// CreateTasks creates tasks for items. With SkipExisting, duplicates are
// detected once up front and that snapshot decides every skip in the run;
// a task linked by a concurrent operation mid-batch is not re-detected.
func (g *Generator) CreateTasks(ctx context.Context, items []models.SourceItem, opts GenerateOptions, onProgress ProgressFunc) GenerateResult {
	res := GenerateResult{CreatedPaths: []string{}}
	res.Errors = []string{}
	progress := progressOrNop(onProgress)
	fields := opts.Fields
	if fields == (tasks.FieldMapping{}) {
		fields = tasks.DefaultSettings().Fields
	}

	var report *dedup.Report
	if opts.SkipExisting {
		var err error
		report, err = g.dups.CheckForDuplicates(ctx, itemPaths(items))
		if err != nil {
			g.logger.Warn("bulk: duplicate check failed", slog.String("error", err.Error()))
			res.stop(fmt.Errorf("duplicate check: %w", err))
			return res
		}
	}

	total := len(items)
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			res.stop(err)
			break
		}
		title := DeriveTitle(it, fields.Title)
		progress(i+1, total, "Creating task: "+title)

		if report.HasTask(it.Path) {
			res.Skipped++
			continue
		}

		h, err := g.tasks.CreateTask(ctx, g.taskData(it, title, fields, opts.LinkToSource))
		if err != nil {
			g.logger.Warn("bulk: create task failed", slog.String("path", it.Path), slog.String("error", err.Error()))
			res.Fail(it.Path, err)
			continue
		}
		res.Created++
		res.CreatedPaths = append(res.CreatedPaths, h.Path)
	}

	g.logger.Info("bulk: generation finished",
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res
}

func (g *Generator) taskData(it models.SourceItem, title string, f tasks.FieldMapping, link bool) tasks.TaskData {
	data := tasks.TaskData{Title: title}
	props := it.Properties
	data.Due = scalarProp(props, f.Due)
	data.Scheduled = scalarProp(props, f.Scheduled)
	data.Priority = scalarProp(props, f.Priority)
	data.Contexts = listProp(props, f.Contexts)
	if link {
		data.Projects = []string{linkref.Wikilink(it.Path)}
	}
	return data
}

// DeriveTitle picks a task title for a source item: the titleKey property,
// then the display name, then a name property, then the file basename.
func DeriveTitle(it models.SourceItem, titleKey string) string {
	if titleKey == "" {
		titleKey = "title"
	}
	candidates := []string{
		scalarProp(it.Properties, titleKey),
		it.DisplayName,
		scalarProp(it.Properties, "name"),
		strings.TrimSuffix(path.Base(it.Path), path.Ext(it.Path)),
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" && c != "." && c != "/" {
			return c
		}
	}
	return untitledTask
}

func scalarProp(props map[string]any, key string) string {
	if key == "" || props == nil {
		return ""
	}
	switch v := props[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []any, map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func listProp(props map[string]any, key string) []string {
	if key == "" || props == nil {
		return nil
	}
	switch v := props[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if e != nil {
				out = append(out, fmt.Sprint(e))
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func itemPaths(items []models.SourceItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Path
	}
	return out
}
