package querywatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/events"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/tasks"
)

const (
	startupDelay = 2 * time.Second
	debounceWin  = 500 * time.Millisecond
	suffix       = ".query.yaml"
)

type fakeDefs struct {
	mu    sync.Mutex
	files map[string]string
}

func (f *fakeDefs) set(path, content string) {
	f.mu.Lock()
	f.files[path] = content
	f.mu.Unlock()
}

func (f *fakeDefs) remove(path string) {
	f.mu.Lock()
	delete(f.files, path)
	f.mu.Unlock()
}

func (f *fakeDefs) List(_, sfx string) ([]models.NoteMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NoteMetadata
	for p := range f.files {
		if strings.HasSuffix(p, sfx) {
			out = append(out, models.NoteMetadata{Path: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *fakeDefs) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.files[path]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return []byte(c), nil
}

type fakeEval struct {
	mu      sync.Mutex
	results map[string][]models.NotificationItem
	errs    map[string]error
	calls   map[string]int
}

func (e *fakeEval) set(id string, paths ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]models.NotificationItem, 0, len(paths))
	for _, p := range paths {
		items = append(items, models.NotificationItem{Path: p, Title: strings.TrimSuffix(p, ".md")})
	}
	e.results[id] = items
	delete(e.errs, id)
}

func (e *fakeEval) fail(id string, err error) {
	e.mu.Lock()
	e.errs[id] = err
	e.mu.Unlock()
}

func (e *fakeEval) Evaluate(_ context.Context, id string) ([]models.NotificationItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[id]++
	if err := e.errs[id]; err != nil {
		return nil, err
	}
	return e.results[id], nil
}

func (e *fakeEval) count(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n models.Notification) {
	d.mu.Lock()
	d.sent = append(d.sent, n)
	d.mu.Unlock()
}

func (d *recordingDispatcher) forQuery(id string) []models.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Notification
	for _, n := range d.sent {
		if n.QueryID == id {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	w      *Watcher
	feed   *events.Feed
	defs   *fakeDefs
	eval   *fakeEval
	disp   *recordingDispatcher
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, cfg Config, defs map[string]string, eval Evaluator) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		feed: events.NewFeed(),
		defs: &fakeDefs{files: defs},
		eval: &fakeEval{
			results: make(map[string][]models.NotificationItem),
			errs:    make(map[string]error),
			calls:   make(map[string]int),
		},
		disp: &recordingDispatcher{},
	}
	if eval == nil {
		eval = h.eval
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.w = New(cfg, h.defs, h.feed, eval, nil, h.disp, logger)
	return h
}

func defaultConfig() Config {
	return Config{
		StartupDelay:   startupDelay,
		RescanInterval: time.Hour,
		Debounce:       debounceWin,
		QuerySuffix:    suffix,
	}
}

// start runs the watcher and waits past the startup delay.
func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.w.Run(ctx) }()
	h.sleep(h.w.cfg.StartupDelay + time.Millisecond)
}

func (h *harness) stop() {
	h.cancel()
	if err := <-h.done; err != nil {
		h.t.Errorf("Run: %v", err)
	}
}

func (h *harness) sleep(d time.Duration) {
	time.Sleep(d)
	synctest.Wait()
}

func (h *harness) touch(path string) {
	h.feed.Publish(events.Event{Kind: events.Updated, Path: path})
}

func (h *harness) monitored() []QueryStatus {
	h.t.Helper()
	st, err := h.w.Monitored(context.Background())
	if err != nil {
		h.t.Fatalf("Monitored: %v", err)
	}
	return st
}

func TestDebounce_BurstCoalescesIntoOnePass(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "a.md")
		h.start()
		defer h.stop()

		for range 10 {
			h.touch("a.md")
			h.sleep(20 * time.Millisecond)
		}
		if n := h.eval.count("q.query.yaml"); n != 0 {
			t.Fatalf("evaluated %d times inside the debounce window", n)
		}
		h.sleep(debounceWin)

		if n := h.eval.count("q.query.yaml"); n != 1 {
			t.Errorf("evaluations = %d, want 1", n)
		}
		if n := len(h.disp.forQuery("q.query.yaml")); n != 1 {
			t.Errorf("notifications = %d, want 1", n)
		}
	})
}

func TestDebounce_SpacedEventsEachGetAPass(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "a.md")
		h.start()
		defer h.stop()

		for range 10 {
			h.touch("a.md")
			h.sleep(debounceWin + 100*time.Millisecond)
		}
		if n := h.eval.count("q.query.yaml"); n != 10 {
			t.Errorf("evaluations = %d, want 10", n)
		}
	})
}

func TestSnooze_GatesDispatch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "a.md")
		h.start()
		defer h.stop()

		ctx := context.Background()
		until, err := h.w.Snooze(ctx, "q.query.yaml", 15*time.Minute)
		if err != nil {
			t.Fatalf("Snooze: %v", err)
		}

		for range 3 {
			h.touch("a.md")
			h.sleep(time.Minute)
		}
		if n := len(h.disp.forQuery("q.query.yaml")); n != 0 {
			t.Errorf("notifications while snoozed = %d, want 0", n)
		}

		// A shorter snooze never moves the deadline back.
		again, _ := h.w.Snooze(ctx, "q.query.yaml", time.Minute)
		if !again.Equal(until) {
			t.Errorf("snooze shortened: %v -> %v", until, again)
		}

		h.sleep(time.Until(until) + time.Second)
		h.touch("a.md")
		h.sleep(debounceWin + time.Millisecond)
		if n := len(h.disp.forQuery("q.query.yaml")); n != 1 {
			t.Errorf("notifications after snooze = %d, want 1", n)
		}
	})
}

func TestUnsnooze(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "a.md")
		h.start()
		defer h.stop()

		ctx := context.Background()
		if _, err := h.w.Snooze(ctx, "q.query.yaml", time.Hour); err != nil {
			t.Fatal(err)
		}
		if err := h.w.Unsnooze(ctx, "q.query.yaml"); err != nil {
			t.Fatal(err)
		}
		h.touch("a.md")
		h.sleep(debounceWin + time.Millisecond)
		if n := len(h.disp.forQuery("q.query.yaml")); n != 1 {
			t.Errorf("notifications = %d, want 1", n)
		}
		if _, err := h.w.Snooze(ctx, "missing.query.yaml", time.Minute); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Snooze(missing) err = %v", err)
		}
	})
}

type memDocs struct {
	mu   sync.Mutex
	docs []models.Document
}

func (m *memDocs) add(d models.Document) {
	m.mu.Lock()
	m.docs = append(m.docs, d)
	m.mu.Unlock()
}

func (m *memDocs) ListDocuments(_ context.Context, folder string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if strings.HasPrefix(d.Path, folder+"/") {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestScenarioC_EmptyToTwoResults(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		docs := &memDocs{}
		defs := map[string]string{
			"Views/open.query.yaml": "name: Open projects\nnotify: true\nsource: inFolder(\"Projects\")\n",
		}
		h := newHarness(t, defaultConfig(), defs, nil)
		h.w.eval = NewFallbackEvaluator(h.defs, docs, tasks.DefaultSettings())
		h.start()
		defer h.stop()

		h.touch("Inbox/unrelated.md")
		h.sleep(debounceWin + time.Millisecond)
		if n := len(h.disp.forQuery("Views/open.query.yaml")); n != 0 {
			t.Fatalf("notifications for empty result = %d", n)
		}
		st := h.monitored()
		if len(st) != 1 || st[0].CachedPaths != 0 || st[0].Name != "Open projects" {
			t.Fatalf("status = %+v", st)
		}

		docs.add(models.Document{Path: "Projects/a.md", Title: "A", Frontmatter: map[string]any{"tags": []any{"task"}, "status": "open"}})
		docs.add(models.Document{Path: "Projects/b.md", Title: "B"})
		h.touch("Projects/a.md")
		h.sleep(debounceWin + time.Millisecond)

		sent := h.disp.forQuery("Views/open.query.yaml")
		if len(sent) != 1 {
			t.Fatalf("notifications = %d, want 1", len(sent))
		}
		n := sent[0]
		if n.QueryName != "Open projects" || len(n.Items) != 2 {
			t.Fatalf("notification = %+v", n)
		}
		if !n.Items[0].IsTask || n.Items[0].Status != "open" || n.Items[1].IsTask {
			t.Errorf("items = %+v", n.Items)
		}
		st = h.monitored()
		if st[0].CachedPaths != 2 || st[0].LastResultCount != 2 {
			t.Errorf("status = %+v", st[0])
		}
	})
}

func TestEvaluationFailure_IsolatedAndCacheKept(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		defs := map[string]string{
			"q1.query.yaml": "notify: true\n",
			"q2.query.yaml": "notify: true\n",
		}
		h := newHarness(t, defaultConfig(), defs, nil)
		h.eval.set("q1.query.yaml", "x.md")
		h.eval.set("q2.query.yaml", "y.md")
		h.start()
		defer h.stop()

		h.touch("x.md")
		h.sleep(debounceWin + time.Millisecond)

		h.eval.fail("q1.query.yaml", errors.New("boom"))
		h.touch("x.md")
		h.sleep(debounceWin + time.Millisecond)

		if n := len(h.disp.forQuery("q1.query.yaml")); n != 1 {
			t.Errorf("q1 notifications = %d, want 1 (first pass only)", n)
		}
		if n := len(h.disp.forQuery("q2.query.yaml")); n != 2 {
			t.Errorf("q2 notifications = %d, want 2", n)
		}
		for _, st := range h.monitored() {
			if st.ID == "q1.query.yaml" && st.CachedPaths != 1 {
				t.Errorf("q1 cache = %d, want previous result kept", st.CachedPaths)
			}
		}
	})
}

func TestUnsupportedQuery_ReplacesCacheWithEmpty(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "x.md")
		h.start()
		defer h.stop()

		h.touch("x.md")
		h.sleep(debounceWin + time.Millisecond)
		h.eval.fail("q.query.yaml", apperr.ErrUnsupportedQuery)
		h.touch("x.md")
		h.sleep(debounceWin + time.Millisecond)

		st := h.monitored()
		if st[0].CachedPaths != 0 || st[0].LastResultCount != 0 {
			t.Errorf("status = %+v, want emptied cache", st[0])
		}
	})
}

func TestLiveView_PreferredOverEvaluator(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "eval.md")
		h.start()
		defer h.stop()

		unregister := h.w.Views().Register("q.query.yaml", StaticResults{{Path: "live.md", Title: "Live"}})
		h.touch("live.md")
		h.sleep(debounceWin + time.Millisecond)

		if n := h.eval.count("q.query.yaml"); n != 0 {
			t.Errorf("evaluator called %d times with a live view", n)
		}
		sent := h.disp.forQuery("q.query.yaml")
		if len(sent) != 1 || sent[0].Items[0].Path != "live.md" {
			t.Fatalf("sent = %+v", sent)
		}

		unregister()
		h.touch("live.md")
		h.sleep(debounceWin + time.Millisecond)
		if n := h.eval.count("q.query.yaml"); n != 1 {
			t.Errorf("evaluator calls after unmount = %d, want 1", n)
		}
	})
}

func TestDefinitionEvents_RegisterAndDeregister(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.start()
		defer h.stop()

		def := func(kind events.Kind) {
			h.feed.Publish(events.Event{Kind: kind, Path: "q.query.yaml", Definition: true})
			synctest.Wait()
		}

		h.defs.set("q.query.yaml", "notify: false\n")
		def(events.Updated)
		if st := h.monitored(); len(st) != 0 {
			t.Fatalf("notify=false should deregister: %+v", st)
		}

		h.defs.set("q.query.yaml", "views:\n  - name: Table\n  - name: Board\n    notify: true\n")
		def(events.Created)
		st := h.monitored()
		if len(st) != 1 || st[0].Name != "Board" {
			t.Fatalf("view notify should register: %+v", st)
		}

		h.defs.set("q.query.yaml", "notify: [unclosed\n")
		def(events.Updated)
		if st := h.monitored(); len(st) != 0 {
			t.Fatalf("malformed definition should deregister: %+v", st)
		}

		h.defs.set("q.query.yaml", "notify: true\n")
		def(events.Updated)
		h.defs.remove("q.query.yaml")
		def(events.Deleted)
		if st := h.monitored(); len(st) != 0 {
			t.Fatalf("deleted definition should deregister: %+v", st)
		}
	})
}

func TestRescan_RegistersAndMarksPending(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := defaultConfig()
		cfg.RescanInterval = time.Minute
		h := newHarness(t, cfg, map[string]string{"a.query.yaml": "notify: true\n"}, nil)
		h.eval.set("a.query.yaml", "x.md")
		h.start()
		defer h.stop()

		h.defs.set("b.query.yaml", "notify: true\n")
		h.sleep(time.Minute + debounceWin)

		st := h.monitored()
		if len(st) != 2 {
			t.Fatalf("status = %+v, want 2 monitored", st)
		}
		if h.eval.count("a.query.yaml") != 1 || h.eval.count("b.query.yaml") != 1 {
			t.Errorf("rescan did not trigger evaluation: a=%d b=%d", h.eval.count("a.query.yaml"), h.eval.count("b.query.yaml"))
		}

		h.defs.remove("a.query.yaml")
		h.sleep(time.Minute)
		if st := h.monitored(); len(st) != 1 || st[0].ID != "b.query.yaml" {
			t.Errorf("status = %+v, want only b", st)
		}
	})
}

func TestNoEvaluationBeforeStartupScan(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- h.w.Run(ctx) }()

		h.touch("a.md")
		h.sleep(time.Second)
		if st := h.monitored(); len(st) != 0 {
			t.Errorf("registered before startup delay: %+v", st)
		}
		h.sleep(startupDelay)
		if st := h.monitored(); len(st) != 1 {
			t.Errorf("status after startup = %+v", st)
		}
		cancel()
		<-done
	})
}

func TestTeardown_ReleasesEverything(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.start()
		h.w.Views().Register("q.query.yaml", StaticResults{})
		h.touch("a.md")
		synctest.Wait()

		h.stop()

		if n := h.feed.Len(); n != 0 {
			t.Errorf("subscriptions left = %d", n)
		}
		if _, ok := h.w.Views().Lookup("q.query.yaml"); ok {
			t.Error("live views not cleared")
		}
		if _, err := h.w.Monitored(context.Background()); !errors.Is(err, ErrStopped) {
			t.Errorf("Monitored after stop err = %v", err)
		}
		// Publishing after teardown must not block.
		h.touch("a.md")
	})
}

func TestTrigger(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, defaultConfig(), map[string]string{"q.query.yaml": "notify: true\n"}, nil)
		h.eval.set("q.query.yaml", "a.md")
		h.start()
		defer h.stop()

		if err := h.w.Trigger(context.Background(), "q.query.yaml"); err != nil {
			t.Fatal(err)
		}
		h.sleep(debounceWin + time.Millisecond)
		if n := h.eval.count("q.query.yaml"); n != 1 {
			t.Errorf("evaluations = %d", n)
		}
	})
}
