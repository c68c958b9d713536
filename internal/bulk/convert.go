package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/tasklink/internal/linkref"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/tasks"
)

// Mutator is the host's atomic read-modify-write primitive for a
// document's metadata bag.
type Mutator interface {
	Mutate(ctx context.Context, path string, fn func(fm map[string]any) error) error
}

// IndexWaiter is implemented by mutators whose index can lag behind disk.
type IndexWaiter interface {
	WaitIndexed(ctx context.Context, path string) error
}

// ConvertSettings is the task schema a conversion writes.
type ConvertSettings struct {
	Identification tasks.Identification
	Defaults       tasks.Defaults
	Fields         tasks.FieldMapping
}

// ConvertSettingsFrom extracts the conversion schema from task settings.
func ConvertSettingsFrom(s tasks.Settings) ConvertSettings {
	return ConvertSettings{
		Identification: s.Identification,
		Defaults:       s.Defaults,
		Fields:         s.Fields,
	}
}

// orDefault replaces the zero value with tasks.DefaultSettings.
func (s ConvertSettings) orDefault() ConvertSettings {
	if s == (ConvertSettings{}) {
		return ConvertSettingsFrom(tasks.DefaultSettings())
	}
	return s
}

func (s ConvertSettings) classifier() tasks.Classifier {
	return tasks.NewClassifier(tasks.Settings{Identification: s.Identification, Fields: s.Fields})
}

// ConvertOptions controls a conversion batch.
type ConvertOptions struct {
	ApplyDefaults bool
	LinkToQuery   bool
	QueryPath     string
	// CountSkipped reports already-task items as skipped. When false they
	// are left out of every total. They are never converted either way.
	CountSkipped bool
	Settings     ConvertSettings
}

// ConvertResult is the outcome of ConvertNotes.
type ConvertResult struct {
	Converted int `json:"converted"`
	Outcome
	ConvertedPaths []string `json:"converted_paths"`
}

// ConvertPreCheck classifies a conversion batch without touching documents.
type ConvertPreCheck struct {
	ToConvert    int      `json:"to_convert"`
	AlreadyTasks int      `json:"already_tasks"`
	Convertible  []string `json:"convertible"`
	Existing     []string `json:"existing"`
	// Linked lists convertible sources some other task already links to.
	Linked []string `json:"linked,omitempty"`
}

// Converter turns existing documents into tasks in place.
type Converter struct {
	docs   Mutator
	dups   DuplicateChecker
	logger *slog.Logger
	now    func() time.Time
}

// NewConverter creates a converter. dups may be nil.
func NewConverter(docs Mutator, dups DuplicateChecker, logger *slog.Logger) *Converter {
	return &Converter{docs: docs, dups: dups, logger: logger, now: time.Now}
}

// PreCheck splits items into convertible documents and documents that
// already are tasks.
func (c *Converter) PreCheck(ctx context.Context, items []models.SourceItem, settings ConvertSettings) (ConvertPreCheck, error) {
	cls := settings.orDefault().classifier()
	res := ConvertPreCheck{Convertible: []string{}, Existing: []string{}}
	for _, it := range items {
		if cls.IsTaskRecord(it.Properties) {
			res.AlreadyTasks++
			res.Existing = append(res.Existing, it.Path)
			continue
		}
		res.ToConvert++
		res.Convertible = append(res.Convertible, it.Path)
	}
	if c.dups != nil && len(res.Convertible) > 0 {
		report, err := c.dups.CheckForDuplicates(ctx, res.Convertible)
		if err != nil {
			return ConvertPreCheck{}, fmt.Errorf("bulk: precheck: %w", err)
		}
		res.Linked = report.LinkedPaths
	}
	return res, nil
}

// ConvertNotes converts every item that is not yet a task.
func (c *Converter) ConvertNotes(ctx context.Context, items []models.SourceItem, opts ConvertOptions, onProgress ProgressFunc) ConvertResult {
	res := ConvertResult{ConvertedPaths: []string{}}
	res.Errors = []string{}
	progress := progressOrNop(onProgress)
	opts.Settings = opts.Settings.orDefault()
	cls := opts.Settings.classifier()

	work := items
	if !opts.CountSkipped {
		work = make([]models.SourceItem, 0, len(items))
		for _, it := range items {
			if !cls.IsTaskRecord(it.Properties) {
				work = append(work, it)
			}
		}
	}

	total := len(work)
	for i, it := range work {
		if err := ctx.Err(); err != nil {
			res.stop(err)
			break
		}
		progress(i+1, total, "Converting: "+it.Path)

		if cls.IsTaskRecord(it.Properties) {
			res.Skipped++
			continue
		}
		if err := c.ConvertSingle(ctx, it, opts); err != nil {
			c.logger.Warn("bulk: convert failed", slog.String("path", it.Path), slog.String("error", err.Error()))
			res.Fail(it.Path, err)
			continue
		}
		res.Converted++
		res.ConvertedPaths = append(res.ConvertedPaths, it.Path)
	}

	c.logger.Info("bulk: conversion finished",
		slog.Int("converted", res.Converted),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res
}

// ConvertSingle applies the task schema to one document as a single
// mutation, then waits for the index when the mutator supports it.
func (c *Converter) ConvertSingle(ctx context.Context, it models.SourceItem, opts ConvertOptions) error {
	opts.Settings = opts.Settings.orDefault()
	now := c.now().UTC().Format(time.RFC3339)
	err := c.docs.Mutate(ctx, it.Path, func(fm map[string]any) error {
		applyConversion(fm, opts, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if w, ok := c.docs.(IndexWaiter); ok {
		if err := w.WaitIndexed(ctx, it.Path); err != nil {
			c.logger.Warn("bulk: wait for index failed", slog.String("path", it.Path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// applyConversion never overwrites a present value, except the
// modification timestamp which is always set.
func applyConversion(fm map[string]any, opts ConvertOptions, now string) {
	s := opts.Settings
	f := s.Fields

	switch s.Identification.Method {
	case tasks.MethodProperty:
		setIfAbsent(fm, s.Identification.PropertyName, s.Identification.MarkerValue())
	default:
		tag := strings.TrimPrefix(strings.TrimSpace(s.Identification.Tag), "#")
		if tag != "" && !tasks.HasTag(fm[f.Tags], tag) {
			fm[f.Tags] = appendEntry(fm[f.Tags], tag)
		}
	}

	if opts.ApplyDefaults {
		if s.Defaults.Status != "" {
			setIfAbsent(fm, f.Status, s.Defaults.Status)
		}
		if s.Defaults.Priority != "" {
			setIfAbsent(fm, f.Priority, s.Defaults.Priority)
		}
		setIfAbsent(fm, f.DateCreated, now)
	}

	if opts.LinkToQuery && opts.QueryPath != "" && f.Projects != "" {
		ref := linkref.Wikilink(opts.QueryPath)
		present := false
		for _, e := range linkref.Entries(fm[f.Projects]) {
			if linkref.SameTarget(e, ref) {
				present = true
				break
			}
		}
		if !present {
			fm[f.Projects] = appendEntry(fm[f.Projects], ref)
		}
	}

	fm[f.DateModified] = now
}

// setIfAbsent treats a missing key and an explicit null alike.
func setIfAbsent(fm map[string]any, key string, v any) {
	if key == "" {
		return
	}
	if cur, ok := fm[key]; ok && cur != nil {
		return
	}
	fm[key] = v
}

// appendEntry adds entry to a list-valued property, keeping every existing
// element. A scalar becomes the first element of a new list.
func appendEntry(cur any, entry string) []any {
	switch v := cur.(type) {
	case nil:
		return []any{entry}
	case []any:
		out := make([]any, 0, len(v)+1)
		out = append(out, v...)
		return append(out, entry)
	case []string:
		out := make([]any, 0, len(v)+1)
		for _, s := range v {
			out = append(out, s)
		}
		return append(out, entry)
	case string:
		if strings.TrimSpace(v) == "" {
			return []any{entry}
		}
		return []any{v, entry}
	default:
		return []any{v, entry}
	}
}
