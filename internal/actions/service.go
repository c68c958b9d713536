// Package actions holds the use cases shared by the REST API and the MCP
// server: resolving vault paths into source items, running batch actions
// and controlling the query watcher.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/bulk"
	"github.com/starford/tasklink/internal/dedup"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/noteservice"
	"github.com/starford/tasklink/internal/querywatch"
	"github.com/starford/tasklink/internal/tasks"
)

// Notes reads vault documents.
type Notes interface {
	GetNote(ctx context.Context, path string) (*noteservice.NoteDetail, error)
	GetDocument(ctx context.Context, path string) (models.Document, error)
	ListDocuments(ctx context.Context, folder string) ([]models.Document, error)
}

// Watcher is the query watcher control surface.
type Watcher interface {
	Monitored(ctx context.Context) ([]querywatch.QueryStatus, error)
	Snooze(ctx context.Context, queryID string, d time.Duration) (time.Time, error)
	Unsnooze(ctx context.Context, queryID string) error
	Trigger(ctx context.Context, queryID string) error
	Views() *querywatch.LiveViews
}

// Service runs user-initiated actions.
type Service struct {
	notes    Notes
	dups     bulk.DuplicateChecker
	gen      *bulk.Generator
	conv     *bulk.Converter
	watcher  Watcher
	settings tasks.Settings
	logger   *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Notes     Notes
	Dups      bulk.DuplicateChecker
	Generator *bulk.Generator
	Converter *bulk.Converter
	Watcher   Watcher
	Settings  tasks.Settings
	Logger    *slog.Logger
}

// New creates the action service.
func New(d Deps) *Service {
	return &Service{
		notes:    d.Notes,
		dups:     d.Dups,
		gen:      d.Generator,
		conv:     d.Converter,
		watcher:  d.Watcher,
		settings: d.Settings,
		logger:   d.Logger,
	}
}

// Settings returns the task schema in effect.
func (s *Service) Settings() tasks.Settings { return s.settings }

// Resolve loads each path as a source item. Paths that cannot be loaded are
// recorded as failures in the returned outcome; the rest keep input order.
func (s *Service) Resolve(ctx context.Context, paths []string) ([]models.SourceItem, bulk.Outcome) {
	items, out, _ := s.resolve(ctx, paths)
	return items, out
}

func (s *Service) resolve(ctx context.Context, paths []string) ([]models.SourceItem, bulk.Outcome, []string) {
	var (
		out     bulk.Outcome
		missing []string
	)
	out.Errors = []string{}
	items := make([]models.SourceItem, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = cleanPath(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		doc, err := s.notes.GetDocument(ctx, p)
		if err != nil {
			s.logger.Warn("actions: resolve failed", slog.String("path", p), slog.String("error", err.Error()))
			out.Fail(p, err)
			missing = append(missing, p)
			continue
		}
		items = append(items, models.SourceItemFromDocument(doc))
	}
	return items, out, missing
}

func cleanPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = cleanPath(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CheckDuplicates reports which paths already have a linked task.
func (s *Service) CheckDuplicates(ctx context.Context, paths []string) (*dedup.Report, error) {
	return s.dups.CheckForDuplicates(ctx, cleanPaths(paths))
}

// TaskPreCheck is the generation dry run plus paths that could not be read.
type TaskPreCheck struct {
	bulk.PreCheckResult
	Missing []string `json:"missing,omitempty"`
}

// PrecheckTasks summarizes a generation batch without creating anything.
func (s *Service) PrecheckTasks(ctx context.Context, paths []string, skipExisting bool) (TaskPreCheck, error) {
	items, _, missing := s.resolve(ctx, paths)
	res, err := s.gen.PreCheck(ctx, items, skipExisting)
	if err != nil {
		return TaskPreCheck{}, err
	}
	return TaskPreCheck{PreCheckResult: res, Missing: missing}, nil
}

// GenerateRequest asks for one new task per source path.
type GenerateRequest struct {
	Paths        []string
	SkipExisting bool
	LinkToSource bool
}

// CreateTasks resolves the sources and runs a generation batch.
func (s *Service) CreateTasks(ctx context.Context, req GenerateRequest, onProgress bulk.ProgressFunc) bulk.GenerateResult {
	items, miss := s.Resolve(ctx, req.Paths)
	res := s.gen.CreateTasks(ctx, items, bulk.GenerateOptions{
		SkipExisting: req.SkipExisting,
		LinkToSource: req.LinkToSource,
		Fields:       s.settings.Fields,
	}, onProgress)
	res.Outcome = merge(miss, res.Outcome)
	return res
}

// ConversionPreCheck is the conversion dry run plus unreadable paths.
type ConversionPreCheck struct {
	bulk.ConvertPreCheck
	Missing []string `json:"missing,omitempty"`
}

// PrecheckConversion classifies the documents of a conversion batch.
func (s *Service) PrecheckConversion(ctx context.Context, paths []string) (ConversionPreCheck, error) {
	items, _, missing := s.resolve(ctx, paths)
	res, err := s.conv.PreCheck(ctx, items, bulk.ConvertSettingsFrom(s.settings))
	if err != nil {
		return ConversionPreCheck{}, err
	}
	return ConversionPreCheck{ConvertPreCheck: res, Missing: missing}, nil
}

// ConvertRequest asks for documents to be converted into tasks in place.
type ConvertRequest struct {
	Paths         []string
	ApplyDefaults bool
	LinkToQuery   bool
	QueryPath     string
	CountSkipped  bool
}

// Validate checks that a query back-link has a target.
func (r ConvertRequest) Validate() error {
	if r.LinkToQuery && cleanPath(r.QueryPath) == "" {
		return fmt.Errorf("%w: query_path is required when link_to_query is set", apperr.ErrInvalidInput)
	}
	return nil
}

// ConvertNotes resolves the documents and runs a conversion batch.
func (s *Service) ConvertNotes(ctx context.Context, req ConvertRequest, onProgress bulk.ProgressFunc) (bulk.ConvertResult, error) {
	if err := req.Validate(); err != nil {
		return bulk.ConvertResult{}, err
	}
	items, miss := s.Resolve(ctx, req.Paths)
	res := s.conv.ConvertNotes(ctx, items, bulk.ConvertOptions{
		ApplyDefaults: req.ApplyDefaults,
		LinkToQuery:   req.LinkToQuery,
		QueryPath:     cleanPath(req.QueryPath),
		CountSkipped:  req.CountSkipped,
		Settings:      bulk.ConvertSettingsFrom(s.settings),
	}, onProgress)
	res.Outcome = merge(miss, res.Outcome)
	return res, nil
}

// merge puts resolution failures ahead of the batch's own outcome.
func merge(resolve, batch bulk.Outcome) bulk.Outcome {
	out := bulk.Outcome{
		Skipped: batch.Skipped,
		Failed:  resolve.Failed + batch.Failed,
		Errors:  make([]string, 0, len(resolve.Errors)+len(batch.Errors)),
	}
	out.Errors = append(out.Errors, resolve.Errors...)
	out.Errors = append(out.Errors, batch.Errors...)
	return out
}

// ReadNote returns a document with its content.
func (s *Service) ReadNote(ctx context.Context, path string) (*noteservice.NoteDetail, error) {
	p := cleanPath(path)
	if p == "" {
		return nil, fmt.Errorf("%w: path is required", apperr.ErrInvalidInput)
	}
	return s.notes.GetNote(ctx, p)
}

// ListNotes lists indexed documents under folder; empty means the whole vault.
func (s *Service) ListNotes(ctx context.Context, folder string) ([]models.Document, error) {
	return s.notes.ListDocuments(ctx, cleanPath(folder))
}

// MonitoredQueries lists the queries the watcher tracks.
func (s *Service) MonitoredQueries(ctx context.Context) ([]querywatch.QueryStatus, error) {
	return s.watcher.Monitored(ctx)
}

// SnoozeQuery silences a query for the given number of minutes.
func (s *Service) SnoozeQuery(ctx context.Context, queryID string, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return time.Time{}, fmt.Errorf("%w: minutes must be positive", apperr.ErrInvalidInput)
	}
	return s.watcher.Snooze(ctx, cleanPath(queryID), time.Duration(minutes)*time.Minute)
}

// UnsnoozeQuery clears a query's snooze.
func (s *Service) UnsnoozeQuery(ctx context.Context, queryID string) error {
	return s.watcher.Unsnooze(ctx, cleanPath(queryID))
}

// RefreshQuery queues a query, or every query when id is empty, for the
// next evaluation pass.
func (s *Service) RefreshQuery(ctx context.Context, queryID string) error {
	return s.watcher.Trigger(ctx, cleanPath(queryID))
}

// MountView registers a client-computed result snapshot for a query. The
// watcher uses it instead of the fallback evaluator until it is unmounted.
func (s *Service) MountView(queryPath string, items []models.NotificationItem) error {
	p := cleanPath(queryPath)
	if p == "" {
		return fmt.Errorf("%w: query_path is required", apperr.ErrInvalidInput)
	}
	snapshot := make(querywatch.StaticResults, len(items))
	copy(snapshot, items)
	s.watcher.Views().Register(p, snapshot)
	return nil
}

// UnmountView drops the view registered for a query.
func (s *Service) UnmountView(queryPath string) error {
	p := cleanPath(queryPath)
	if !s.watcher.Views().Remove(p) {
		return fmt.Errorf("actions: view %s: %w", p, apperr.ErrNotFound)
	}
	return nil
}
