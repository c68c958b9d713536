// Package querywatch monitors saved queries and notifies when their results
// change.
//
// A single goroutine owns all watcher state: the registry of monitored
// queries, the pending set, the debounce timer and snooze deadlines. Change
// events and control calls reach it over channels. Evaluation passes run on
// their own goroutines and report back to the loop, so a slow evaluation
// never holds up event intake, the debounce timer or the periodic rescan.
package querywatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/events"
	"github.com/starford/tasklink/internal/models"
)

// ErrStopped is returned by control calls once the watcher has shut down.
var ErrStopped = errors.New("querywatch: watcher stopped")

// DefinitionStore lists and reads saved-query definition files.
type DefinitionStore interface {
	List(dir, suffix string) ([]models.NoteMetadata, error)
	Read(path string) ([]byte, error)
}

// Evaluator computes the current results of a saved query.
type Evaluator interface {
	Evaluate(ctx context.Context, queryPath string) ([]models.NotificationItem, error)
}

// Dispatcher delivers notifications. Dispatch must not block.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification)
}

// Subscriber is a change-event feed.
type Subscriber interface {
	Subscribe(fn func(events.Event)) (unsubscribe func())
}

// Config holds the watcher timings.
type Config struct {
	StartupDelay   time.Duration
	RescanInterval time.Duration
	Debounce       time.Duration
	QuerySuffix    string
}

// QueryStatus is a read-only view of one monitored query.
type QueryStatus struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	SnoozedUntil    time.Time `json:"snoozed_until,omitzero"`
	LastResultCount int       `json:"last_result_count"`
	CachedPaths     int       `json:"cached_paths"`
}

type monitored struct {
	id           string
	name         string
	cached       map[string]struct{}
	snoozedUntil time.Time
	lastCount    int
	appliedPass  uint64
}

type state struct {
	queries map[string]*monitored
	pending map[string]struct{}
	// marked is set whenever a query is marked pending since the debounce
	// timer was last armed.
	marked  bool
	passSeq uint64
}

func (st *state) mark(id string) {
	st.pending[id] = struct{}{}
	st.marked = true
}

type job struct {
	id   string
	name string
}

type outcome struct {
	id    string
	items []models.NotificationItem
	err   error
}

type passResult struct {
	seq      uint64
	outcomes []outcome
}

// Watcher is the saved-query change monitor.
type Watcher struct {
	cfg      Config
	defs     DefinitionStore
	feed     Subscriber
	eval     Evaluator
	views    *LiveViews
	dispatch Dispatcher
	logger   *slog.Logger
	now      func() time.Time

	events  chan events.Event
	cmds    chan func(*state)
	results chan passResult
	done    chan struct{}
}

// New creates a watcher. Run starts it.
func New(cfg Config, defs DefinitionStore, feed Subscriber, eval Evaluator, views *LiveViews, dispatch Dispatcher, logger *slog.Logger) *Watcher {
	if views == nil {
		views = NewLiveViews()
	}
	return &Watcher{
		cfg:      cfg,
		defs:     defs,
		feed:     feed,
		eval:     eval,
		views:    views,
		dispatch: dispatch,
		logger:   logger,
		now:      time.Now,
		events:   make(chan events.Event, 256),
		cmds:     make(chan func(*state)),
		results:  make(chan passResult),
		done:     make(chan struct{}),
	}
}

// Views returns the live-view registry the watcher reads from.
func (w *Watcher) Views() *LiveViews { return w.views }

// Run processes events until ctx is cancelled, then cancels every timer,
// releases the feed subscription and clears the registry. It must be called
// once.
func (w *Watcher) Run(ctx context.Context) error {
	unsubscribe := w.feed.Subscribe(w.forward)

	st := &state{
		queries: make(map[string]*monitored),
		pending: make(map[string]struct{}),
	}

	startup := time.NewTimer(w.cfg.StartupDelay)
	var (
		rescan    *time.Ticker
		rescanC   <-chan time.Time
		debounce  *time.Timer
		debounceC <-chan time.Time
	)

	defer func() {
		startup.Stop()
		if rescan != nil {
			rescan.Stop()
		}
		if debounce != nil {
			debounce.Stop()
		}
		unsubscribe()
		w.views.Clear()
		clear(st.queries)
		clear(st.pending)
		close(w.done)
		w.logger.Info("querywatch: stopped")
	}()

	// arm (re)starts the single debounce timer after new marks.
	arm := func() {
		if !st.marked {
			return
		}
		st.marked = false
		if len(st.pending) == 0 {
			return
		}
		if debounce == nil {
			debounce = time.NewTimer(w.cfg.Debounce)
		} else {
			debounce.Stop()
			debounce.Reset(w.cfg.Debounce)
		}
		debounceC = debounce.C
	}

	w.logger.Info("querywatch: started",
		slog.Duration("startup_delay", w.cfg.StartupDelay),
		slog.Duration("debounce", w.cfg.Debounce))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-startup.C:
			w.scan(st, false)
			if w.cfg.RescanInterval > 0 {
				rescan = time.NewTicker(w.cfg.RescanInterval)
				rescanC = rescan.C
			}

		case <-rescanC:
			w.scan(st, true)
			arm()

		case ev := <-w.events:
			if ev.Definition {
				w.handleDefinition(st, ev)
				continue
			}
			w.handlePathChange(st, ev.Path)
			arm()

		case <-debounceC:
			debounceC = nil
			w.startPass(ctx, st)

		case res := <-w.results:
			w.applyPass(ctx, st, res)

		case cmd := <-w.cmds:
			cmd(st)
			arm()
		}
	}
}

func (w *Watcher) forward(ev events.Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// scan registers every definition with notify enabled and drops queries
// whose definition disappeared or stopped notifying. A periodic rescan also
// marks every non-snoozed query pending.
func (w *Watcher) scan(st *state, periodic bool) {
	metas, err := w.defs.List("", w.cfg.QuerySuffix)
	if err != nil {
		w.logger.Warn("querywatch: list definitions failed", slog.String("error", err.Error()))
		return
	}
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		seen[m.Path] = struct{}{}
		w.refresh(st, m.Path)
	}
	for id := range st.queries {
		if _, ok := seen[id]; !ok {
			w.deregister(st, id)
		}
	}

	if periodic {
		now := w.now()
		for id, q := range st.queries {
			if !now.Before(q.snoozedUntil) {
				st.mark(id)
			}
		}
	}
	w.logger.Debug("querywatch: scanned",
		slog.Int("definitions", len(metas)),
		slog.Int("monitored", len(st.queries)),
		slog.Bool("periodic", periodic))
}

// refresh re-reads one definition and registers or deregisters it. A
// definition that cannot be read or parsed counts as notify=false.
func (w *Watcher) refresh(st *state, id string) {
	data, err := w.defs.Read(id)
	if err != nil {
		w.logger.Warn("querywatch: read definition failed", slog.String("query", id), slog.String("error", err.Error()))
		w.deregister(st, id)
		return
	}
	def, err := ParseDefinition(data)
	if err != nil {
		w.logger.Warn("querywatch: parse definition failed", slog.String("query", id), slog.String("error", err.Error()))
		w.deregister(st, id)
		return
	}
	if !def.NotifyEnabled() {
		w.deregister(st, id)
		return
	}
	name := def.DisplayName(id, w.cfg.QuerySuffix)
	if q, ok := st.queries[id]; ok {
		q.name = name
		return
	}
	st.queries[id] = &monitored{id: id, name: name, cached: make(map[string]struct{})}
	w.logger.Info("querywatch: monitoring", slog.String("query", id), slog.String("name", name))
}

func (w *Watcher) deregister(st *state, id string) {
	if _, ok := st.queries[id]; !ok {
		return
	}
	delete(st.queries, id)
	delete(st.pending, id)
	w.logger.Info("querywatch: stopped monitoring", slog.String("query", id))
}

func (w *Watcher) handleDefinition(st *state, ev events.Event) {
	if ev.Kind == events.Deleted {
		w.deregister(st, ev.Path)
		return
	}
	w.refresh(st, ev.Path)
}

// handlePathChange marks queries whose cached results contain path, then
// every query that is not snoozed. The second rule catches documents that
// newly enter a result set.
func (w *Watcher) handlePathChange(st *state, path string) {
	now := w.now()
	for id, q := range st.queries {
		if _, hit := q.cached[path]; hit || !now.Before(q.snoozedUntil) {
			st.mark(id)
		}
	}
}

// startPass snapshots and clears the pending set and evaluates the
// snapshot on a new goroutine. Snoozed queries are skipped.
func (w *Watcher) startPass(ctx context.Context, st *state) {
	if len(st.pending) == 0 {
		return
	}
	now := w.now()
	jobs := make([]job, 0, len(st.pending))
	for id := range st.pending {
		q, ok := st.queries[id]
		if !ok {
			continue
		}
		if now.Before(q.snoozedUntil) {
			w.logger.Debug("querywatch: snoozed, skipping", slog.String("query", id))
			continue
		}
		jobs = append(jobs, job{id: id, name: q.name})
	}
	clear(st.pending)
	if len(jobs) == 0 {
		return
	}

	st.passSeq++
	seq := st.passSeq
	w.logger.Debug("querywatch: pass started", slog.Uint64("pass", seq), slog.Int("queries", len(jobs)))

	go func() {
		res := passResult{seq: seq, outcomes: make([]outcome, 0, len(jobs))}
		for _, j := range jobs {
			items, err := w.resolve(ctx, j.id)
			res.outcomes = append(res.outcomes, outcome{id: j.id, items: items, err: err})
		}
		select {
		case w.results <- res:
		case <-ctx.Done():
		}
	}()
}

// resolve prefers a live view and falls back to the evaluator.
func (w *Watcher) resolve(ctx context.Context, id string) ([]models.NotificationItem, error) {
	if p, ok := w.views.Lookup(id); ok {
		return p.Results(), nil
	}
	return w.eval.Evaluate(ctx, id)
}

// applyPass stores each query's new result set, even when empty, and
// dispatches non-empty results. A failed evaluation leaves that query's
// cache alone. Results older than what a query already holds are dropped.
func (w *Watcher) applyPass(ctx context.Context, st *state, res passResult) {
	now := w.now()
	for _, o := range res.outcomes {
		q, ok := st.queries[o.id]
		if !ok || res.seq <= q.appliedPass {
			continue
		}
		items := o.items
		if o.err != nil {
			if !errors.Is(o.err, apperr.ErrUnsupportedQuery) {
				w.logger.Warn("querywatch: evaluation failed", slog.String("query", o.id), slog.String("error", o.err.Error()))
				continue
			}
			w.logger.Debug("querywatch: no fallback for query", slog.String("query", o.id), slog.String("reason", o.err.Error()))
			items = nil
		}

		q.appliedPass = res.seq
		q.cached = make(map[string]struct{}, len(items))
		for _, it := range items {
			q.cached[it.Path] = struct{}{}
		}
		q.lastCount = len(items)

		if len(items) == 0 || now.Before(q.snoozedUntil) {
			continue
		}
		w.dispatch.Dispatch(ctx, models.Notification{
			QueryID:   q.id,
			QueryName: q.name,
			Items:     append([]models.NotificationItem(nil), items...),
		})
		w.logger.Debug("querywatch: dispatched", slog.String("query", q.id), slog.Int("items", len(items)))
	}
}

// do runs fn on the loop goroutine and waits for it.
func (w *Watcher) do(ctx context.Context, fn func(*state) error) error {
	errc := make(chan error, 1)
	cmd := func(st *state) { errc <- fn(st) }
	select {
	case w.cmds <- cmd:
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// Snooze suppresses notifications for the query for d from now. A snooze
// never shortens an existing one; use Unsnooze to reset.
func (w *Watcher) Snooze(ctx context.Context, queryID string, d time.Duration) (time.Time, error) {
	var until time.Time
	err := w.do(ctx, func(st *state) error {
		q, ok := st.queries[queryID]
		if !ok {
			return fmt.Errorf("querywatch: query %s: %w", queryID, apperr.ErrNotFound)
		}
		next := w.now().Add(d)
		if next.After(q.snoozedUntil) {
			q.snoozedUntil = next
		}
		until = q.snoozedUntil
		w.logger.Info("querywatch: snoozed", slog.String("query", queryID), slog.Time("until", until))
		return nil
	})
	return until, err
}

// Unsnooze clears the snooze of a query.
func (w *Watcher) Unsnooze(ctx context.Context, queryID string) error {
	return w.do(ctx, func(st *state) error {
		q, ok := st.queries[queryID]
		if !ok {
			return fmt.Errorf("querywatch: query %s: %w", queryID, apperr.ErrNotFound)
		}
		q.snoozedUntil = time.Time{}
		return nil
	})
}

// Monitored lists the monitored queries ordered by id.
func (w *Watcher) Monitored(ctx context.Context) ([]QueryStatus, error) {
	var out []QueryStatus
	err := w.do(ctx, func(st *state) error {
		out = make([]QueryStatus, 0, len(st.queries))
		for _, q := range st.queries {
			out = append(out, QueryStatus{
				ID:              q.id,
				Name:            q.name,
				SnoozedUntil:    q.snoozedUntil,
				LastResultCount: q.lastCount,
				CachedPaths:     len(q.cached),
			})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b QueryStatus) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

// Trigger marks queries pending as if a change event had arrived for each.
// An empty id marks every non-snoozed query.
func (w *Watcher) Trigger(ctx context.Context, queryID string) error {
	return w.do(ctx, func(st *state) error {
		if queryID == "" {
			now := w.now()
			for id, q := range st.queries {
				if !now.Before(q.snoozedUntil) {
					st.mark(id)
				}
			}
			return nil
		}
		if _, ok := st.queries[queryID]; !ok {
			return fmt.Errorf("querywatch: query %s: %w", queryID, apperr.ErrNotFound)
		}
		st.mark(queryID)
		return nil
	})
}
