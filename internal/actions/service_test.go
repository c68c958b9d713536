package actions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/bulk"
	"github.com/starford/tasklink/internal/dedup"
	"github.com/starford/tasklink/internal/index"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/noteservice"
	"github.com/starford/tasklink/internal/querywatch"
	"github.com/starford/tasklink/internal/tasks"
	"github.com/starford/tasklink/internal/testutil"
)

type fakeWatcher struct {
	views    *querywatch.LiveViews
	snoozed  map[string]time.Duration
	cleared  []string
	triggers []string
}

func (f *fakeWatcher) Monitored(context.Context) ([]querywatch.QueryStatus, error) {
	return []querywatch.QueryStatus{{ID: "q.query.yaml", Name: "Q"}}, nil
}

func (f *fakeWatcher) Snooze(_ context.Context, id string, d time.Duration) (time.Time, error) {
	if id != "q.query.yaml" {
		return time.Time{}, apperr.ErrNotFound
	}
	f.snoozed[id] = d
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(d), nil
}

func (f *fakeWatcher) Unsnooze(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeWatcher) Trigger(_ context.Context, id string) error {
	f.triggers = append(f.triggers, id)
	return nil
}

func (f *fakeWatcher) Views() *querywatch.LiveViews { return f.views }

func newService(t *testing.T, files map[string]string) (*Service, *noteservice.Service, *fakeWatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir, store := testutil.TestVault(t)
	testutil.WriteFiles(t, dir, files)
	db := testutil.TestDB(t)
	if err := index.Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	notes := noteservice.NewService(store, db)
	settings := tasks.DefaultSettings()
	detector := dedup.NewDetector(tasks.NewRepository(notes, settings))
	w := &fakeWatcher{views: querywatch.NewLiveViews(), snoozed: map[string]time.Duration{}}
	svc := New(Deps{
		Notes:     notes,
		Dups:      detector,
		Generator: bulk.NewGenerator(tasks.NewService(notes, settings), detector, logger),
		Converter: bulk.NewConverter(notes, detector, logger),
		Watcher:   w,
		Settings:  settings,
		Logger:    logger,
	})
	return svc, notes, w
}

var vault = map[string]string{
	"Projects/Alpha.md": "---\ndue: 2026-04-01\n---\n# Alpha\n",
	"Projects/Beta.md":  "# Beta\n",
	"Tasks/Do beta.md":  "---\ntags: [task]\nprojects:\n  - \"[[Projects/Beta]]\"\n---\n",
}

func TestResolve_MissingPathsRecorded(t *testing.T) {
	svc, _, _ := newService(t, vault)
	items, out := svc.Resolve(context.Background(), []string{"Projects/Alpha.md", " /Projects/Alpha.md ", "Nope.md", ""})

	if len(items) != 1 || items[0].Path != "Projects/Alpha.md" {
		t.Fatalf("items = %+v", items)
	}
	if out.Failed != 1 || len(out.Errors) != 1 || !strings.HasPrefix(out.Errors[0], "Nope.md: ") {
		t.Errorf("outcome = %+v", out)
	}
}

func TestCreateTasks_MergesResolutionFailures(t *testing.T) {
	svc, notes, _ := newService(t, vault)
	ctx := context.Background()

	res := svc.CreateTasks(ctx, GenerateRequest{
		Paths:        []string{"Projects/Alpha.md", "Projects/Beta.md", "Gone.md"},
		SkipExisting: true,
		LinkToSource: true,
	}, nil)

	if res.Created != 1 || res.Skipped != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Errors[0], "Gone.md: ") {
		t.Errorf("errors = %v", res.Errors)
	}
	if len(res.CreatedPaths) != 1 || res.CreatedPaths[0] != "Tasks/Alpha.md" {
		t.Fatalf("created = %v", res.CreatedPaths)
	}
	doc, err := notes.GetDocument(ctx, "Tasks/Alpha.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Frontmatter["due"] != "2026-04-01" {
		t.Errorf("due = %v", doc.Frontmatter["due"])
	}

	rep, err := svc.CheckDuplicates(ctx, []string{"Projects/Alpha.md", "Projects/Beta.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.LinkedPaths) != 2 {
		t.Errorf("linked after create = %v", rep.LinkedPaths)
	}
}

func TestPrechecks(t *testing.T) {
	svc, _, _ := newService(t, vault)
	ctx := context.Background()

	tp, err := svc.PrecheckTasks(ctx, []string{"Projects/Alpha.md", "Projects/Beta.md", "x.md"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if tp.ToCreate != 1 || tp.ToSkip != 1 || len(tp.Missing) != 1 || tp.Missing[0] != "x.md" {
		t.Errorf("task precheck = %+v", tp)
	}

	cp, err := svc.PrecheckConversion(ctx, []string{"Projects/Alpha.md", "Tasks/Do beta.md"})
	if err != nil {
		t.Fatal(err)
	}
	if cp.ToConvert != 1 || cp.AlreadyTasks != 1 || len(cp.Missing) != 0 {
		t.Errorf("conversion precheck = %+v", cp)
	}
}

func TestConvertNotes(t *testing.T) {
	svc, notes, _ := newService(t, vault)
	ctx := context.Background()

	if _, err := svc.ConvertNotes(ctx, ConvertRequest{Paths: []string{"Projects/Alpha.md"}, LinkToQuery: true}, nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("missing query path err = %v", err)
	}

	res, err := svc.ConvertNotes(ctx, ConvertRequest{
		Paths:         []string{"Projects/Alpha.md", "Tasks/Do beta.md"},
		ApplyDefaults: true,
		LinkToQuery:   true,
		QueryPath:     "Views/open.query.yaml",
		CountSkipped:  true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Converted != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	doc, _ := notes.GetDocument(ctx, "Projects/Alpha.md")
	if doc.Frontmatter["status"] != "open" {
		t.Errorf("frontmatter = %v", doc.Frontmatter)
	}
	projects, _ := doc.Frontmatter["projects"].([]any)
	if len(projects) != 1 || projects[0] != "[[Views/open.query.yaml]]" {
		t.Errorf("projects = %v", doc.Frontmatter["projects"])
	}
}

func TestReadAndListNotes(t *testing.T) {
	svc, _, _ := newService(t, vault)
	ctx := context.Background()

	n, err := svc.ReadNote(ctx, "/Projects/Beta.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "Beta" || !strings.Contains(n.Content, "# Beta") {
		t.Errorf("note = %+v", n)
	}
	if _, err := svc.ReadNote(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty path err = %v", err)
	}
	if _, err := svc.ReadNote(ctx, "Missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}

	docs, err := svc.ListNotes(ctx, "Projects/")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("ListNotes = %d docs", len(docs))
	}
}

func TestWatcherControls(t *testing.T) {
	svc, _, w := newService(t, vault)
	ctx := context.Background()

	if _, err := svc.SnoozeQuery(ctx, "q.query.yaml", 0); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("zero minutes err = %v", err)
	}
	until, err := svc.SnoozeQuery(ctx, "q.query.yaml", 15)
	if err != nil {
		t.Fatal(err)
	}
	if w.snoozed["q.query.yaml"] != 15*time.Minute || until.IsZero() {
		t.Errorf("snooze = %v until %v", w.snoozed, until)
	}
	if err := svc.UnsnoozeQuery(ctx, "q.query.yaml"); err != nil || len(w.cleared) != 1 {
		t.Errorf("unsnooze err = %v cleared = %v", err, w.cleared)
	}
	if err := svc.RefreshQuery(ctx, ""); err != nil || len(w.triggers) != 1 {
		t.Errorf("refresh err = %v triggers = %v", err, w.triggers)
	}

	items := []models.NotificationItem{{Path: "a.md", Title: "A"}}
	if err := svc.MountView("Views/q.query.yaml", items); err != nil {
		t.Fatal(err)
	}
	items[0].Path = "mutated.md"
	p, ok := w.views.Lookup("Views/q.query.yaml")
	if !ok || p.Results()[0].Path != "a.md" {
		t.Errorf("mounted view = %v %v", ok, p)
	}
	if err := svc.UnmountView("Views/q.query.yaml"); err != nil {
		t.Fatal(err)
	}
	if err := svc.UnmountView("Views/q.query.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second unmount err = %v", err)
	}
}
