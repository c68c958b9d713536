package bulk

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/linkref"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/tasks"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func newConverter(e *env) *Converter {
	c := NewConverter(e.notes, e.detector, discardLogger())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestConvert_ScenarioB(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]string{
		"Notes/a.md": "# A\n",
		"Notes/b.md": "---\nstatus: open\n---\n# B\n",
		"Notes/t.md": "---\ntags: [task]\n---\n# Already\n",
	})
	c := newConverter(e)
	items := e.items(t, "Notes/a.md", "Notes/b.md", "Notes/t.md")
	settings := ConvertSettingsFrom(e.settings)

	pc, err := c.PreCheck(ctx, items, settings)
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if pc.ToConvert != 2 || pc.AlreadyTasks != 1 || pc.Existing[0] != "Notes/t.md" {
		t.Fatalf("precheck = %+v", pc)
	}

	res := c.ConvertNotes(ctx, items, ConvertOptions{ApplyDefaults: true, CountSkipped: true, Settings: settings}, nil)
	if res.Converted != 2 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	for _, p := range []string{"Notes/a.md", "Notes/b.md"} {
		if !tasks.NewClassifier(e.settings).IsTaskRecord(e.frontmatter(t, p)) {
			t.Errorf("%s should be a task after conversion", p)
		}
	}
	if fm := e.frontmatter(t, "Notes/t.md"); fm["dateModified"] != nil {
		t.Error("already-task document must not be touched")
	}
}

func TestConvert_CountSkippedFalseExcludesFromTotals(t *testing.T) {
	e := newEnv(t, map[string]string{
		"a.md": "# A\n",
		"t.md": "---\ntags: task\n---\n",
	})
	var totals []int
	res := newConverter(e).ConvertNotes(context.Background(), e.items(t, "a.md", "t.md"),
		ConvertOptions{Settings: ConvertSettingsFrom(e.settings)},
		func(_, total int, _ string) { totals = append(totals, total) })
	if res.Converted != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(totals) != 1 || totals[0] != 1 {
		t.Errorf("progress totals = %v, want [1]", totals)
	}
}

func TestConvert_NonClobberAndModifiedException(t *testing.T) {
	ctx := context.Background()
	raw := "---\n" +
		"status: waiting\n" +
		"priority: low\n" +
		"dateCreated: 2020-01-01\n" +
		"dateModified: 2020-01-02\n" +
		"isTask: false\n" +
		"projects:\n  - \"[[Views/Q.query.yaml]]\"\n" +
		"custom: {a: 1}\n" +
		"---\nBody stays\n"
	e := newEnv(t, map[string]string{"n.md": raw})
	s := e.settings
	s.Identification = tasks.Identification{Method: tasks.MethodProperty, PropertyName: "isTask", PropertyValue: "true"}

	before := e.frontmatter(t, "n.md")
	opts := ConvertOptions{
		ApplyDefaults: true,
		LinkToQuery:   true,
		QueryPath:     "views/q.query.yaml",
		Settings:      ConvertSettingsFrom(s),
	}
	if err := newConverter(e).ConvertSingle(ctx, models.SourceItem{Path: "n.md"}, opts); err != nil {
		t.Fatalf("ConvertSingle: %v", err)
	}
	after := e.frontmatter(t, "n.md")

	for k, v := range before {
		if k == "dateModified" {
			continue
		}
		if !reflect.DeepEqual(after[k], v) {
			t.Errorf("%s changed: %#v -> %#v", k, v, after[k])
		}
	}
	if after["dateModified"] != fixedNow.Format(time.RFC3339) {
		t.Errorf("dateModified = %v, want overwritten", after["dateModified"])
	}

	d, _ := e.notes.GetNote(ctx, "n.md")
	for _, line := range []string{"status: waiting\n", "dateCreated: 2020-01-01\n", "custom: {a: 1}\n", "isTask: false\n"} {
		if !strings.Contains(d.Content, line) {
			t.Errorf("line %q not preserved in\n%s", line, d.Content)
		}
	}
	if !strings.HasSuffix(d.Content, "---\nBody stays\n") {
		t.Errorf("body changed:\n%s", d.Content)
	}
}

func TestApplyConversion_AddsWhenAbsent(t *testing.T) {
	s := ConvertSettingsFrom(tasks.DefaultSettings())
	fm := map[string]any{"tags": "project", "status": nil}
	applyConversion(fm, ConvertOptions{ApplyDefaults: true, LinkToQuery: true, QueryPath: "Views/Q.query.yaml", Settings: s}, "NOW")

	if !reflect.DeepEqual(fm["tags"], []any{"project", "task"}) {
		t.Errorf("tags = %#v", fm["tags"])
	}
	if fm["status"] != "open" || fm["priority"] != "normal" || fm["dateCreated"] != "NOW" || fm["dateModified"] != "NOW" {
		t.Errorf("defaults = %v", fm)
	}
	if !reflect.DeepEqual(fm["projects"], []any{"[[Views/Q.query.yaml]]"}) {
		t.Errorf("projects = %#v", fm["projects"])
	}
}

func TestApplyConversion_BackLinkDedup(t *testing.T) {
	s := ConvertSettingsFrom(tasks.DefaultSettings())
	opts := ConvertOptions{LinkToQuery: true, QueryPath: "Views/Q.query.yaml", Settings: s}

	fm := map[string]any{"projects": []any{"[[views/q.query.yaml|Q]]"}}
	applyConversion(fm, opts, "NOW")
	if n := len(linkref.Entries(fm["projects"])); n != 1 {
		t.Errorf("projects = %#v, want no duplicate", fm["projects"])
	}

	fm = map[string]any{"projects": "[[Other]]"}
	applyConversion(fm, opts, "NOW")
	if !reflect.DeepEqual(fm["projects"], []any{"[[Other]]", "[[Views/Q.query.yaml]]"}) {
		t.Errorf("scalar projects = %#v", fm["projects"])
	}

	fm = map[string]any{}
	applyConversion(fm, ConvertOptions{LinkToQuery: true, Settings: s}, "NOW")
	if _, ok := fm["projects"]; ok {
		t.Error("no query path means no back-link")
	}
	if _, ok := fm["status"]; ok {
		t.Error("defaults applied without ApplyDefaults")
	}
}

func TestApplyConversion_PropertyMarkerKept(t *testing.T) {
	s := ConvertSettingsFrom(tasks.DefaultSettings())
	s.Identification = tasks.Identification{Method: tasks.MethodProperty, PropertyName: "kind", PropertyValue: "false"}
	fm := map[string]any{}
	applyConversion(fm, ConvertOptions{Settings: s}, "NOW")
	if fm["kind"] != false {
		t.Errorf("kind = %#v, want bool false", fm["kind"])
	}
	fm = map[string]any{"kind": "note"}
	applyConversion(fm, ConvertOptions{Settings: s}, "NOW")
	if fm["kind"] != "note" {
		t.Errorf("present property overwritten: %#v", fm["kind"])
	}
}

func TestConvert_MissingDocumentRecorded(t *testing.T) {
	e := newEnv(t, map[string]string{"a.md": "# A\n"})
	items := []models.SourceItem{{Path: "gone.md"}, {Path: "a.md"}}
	res := newConverter(e).ConvertNotes(context.Background(), items, ConvertOptions{Settings: ConvertSettingsFrom(e.settings)}, nil)
	if res.Converted != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Errors[0], "gone.md: ") || !strings.Contains(res.Errors[0], apperr.ErrNotFound.Error()) {
		t.Errorf("errors = %v", res.Errors)
	}
}

type recordingMutator struct {
	fail    map[string]error
	mutated []string
	waited  []string
}

func (m *recordingMutator) Mutate(_ context.Context, path string, fn func(map[string]any) error) error {
	if err := m.fail[path]; err != nil {
		return err
	}
	m.mutated = append(m.mutated, path)
	return fn(map[string]any{})
}

func (m *recordingMutator) WaitIndexed(_ context.Context, path string) error {
	m.waited = append(m.waited, path)
	return nil
}

func TestConvert_WaitsForIndexAfterEachMutation(t *testing.T) {
	m := &recordingMutator{fail: map[string]error{"b.md": apperr.ErrMutationRejected}}
	c := NewConverter(m, nil, discardLogger())
	items := []models.SourceItem{{Path: "a.md"}, {Path: "b.md"}, {Path: "c.md"}}

	res := c.ConvertNotes(context.Background(), items, ConvertOptions{}, nil)
	if res.Converted != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Errors[0], "b.md: ") {
		t.Errorf("errors = %v", res.Errors)
	}
	if !reflect.DeepEqual(m.waited, []string{"a.md", "c.md"}) {
		t.Errorf("waited = %v", m.waited)
	}
}
