package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tasklink/internal/events"
	"github.com/starford/tasklink/internal/storage"
)

const reconcileDelay = 200 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// QuerySuffix selects saved-query definition files. They are not indexed,
	// only announced with Event.Definition set.
	QuerySuffix string
	// Publisher receives an event after each index change. May be nil.
	Publisher events.Publisher
}

type watchLoop struct {
	db     *DB
	store  storage.Provider
	root   string
	opts   WatchOptions
	logger *slog.Logger
}

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that removes stale
// index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, opts WatchOptions) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	l := &watchLoop{db: db, store: store, root: vaultRoot, opts: opts, logger: logger}
	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			l.reconcile()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					l.indexNewDir(ev.Name)
					continue
				}
			}
			if l.handle(ev) {
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handle processes one file event. It reports whether a reconciliation pass
// should follow.
func (l *watchLoop) handle(ev fsnotify.Event) bool {
	rel, err := filepath.Rel(l.root, ev.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	if l.opts.QuerySuffix != "" && strings.HasSuffix(rel, l.opts.QuerySuffix) {
		l.handleDefinition(ev, rel)
		return false
	}
	if !strings.HasSuffix(rel, storage.MarkdownSuffix) || strings.HasPrefix(filepath.Base(rel), ".") {
		return false
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		data, err := l.store.Read(rel)
		if err != nil {
			l.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			return false
		}
		prev, _ := l.db.GetChecksum(rel)
		if err := IndexFile(l.db, rel, data, time.Time{}); err != nil {
			l.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
			return false
		}
		kind := events.Updated
		if prev == "" {
			kind = events.Created
		}
		l.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", string(kind)))
		l.publish(events.Event{Kind: kind, Path: rel})

	case ev.Op&fsnotify.Remove != 0:
		l.remove(rel)

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the old path only; the new path arrives
		// as a separate Create when it stays inside a watched dir.
		l.remove(rel)
		return true
	}
	return false
}

func (l *watchLoop) handleDefinition(ev fsnotify.Event, rel string) {
	var kind events.Kind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = events.Created
	case ev.Op&fsnotify.Write != 0:
		kind = events.Updated
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = events.Deleted
	default:
		return
	}
	l.logger.Debug("watcher: definition changed", slog.String("path", rel), slog.String("op", string(kind)))
	l.publish(events.Event{Kind: kind, Path: rel, Definition: true})
}

func (l *watchLoop) remove(rel string) {
	if err := l.db.DeleteNote(rel); err != nil {
		l.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("watcher: deleted", slog.String("path", rel))
	l.publish(events.Event{Kind: events.Deleted, Path: rel})
}

func (l *watchLoop) publish(ev events.Event) {
	if l.opts.Publisher != nil {
		l.opts.Publisher.Publish(ev)
	}
}

// reconcile removes index entries without a file on disk and indexes
// on-disk files that are missing or stale.
func (l *watchLoop) reconcile() {
	checksums, err := l.db.AllChecksums()
	if err != nil {
		l.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := l.store.List("", storage.MarkdownSuffix)
	if err != nil {
		l.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			l.remove(p)
		}
	}

	for p, cs := range disk {
		prev, known := checksums[p]
		if prev == cs {
			continue
		}
		data, err := l.store.Read(p)
		if err != nil {
			continue
		}
		if err := IndexFile(l.db, p, data, time.Time{}); err == nil {
			kind := events.Updated
			if !known {
				kind = events.Created
			}
			l.logger.Debug("reconcile: indexed", slog.String("path", p))
			l.publish(events.Event{Kind: kind, Path: p})
		}
	}
}

// indexNewDir indexes Markdown files and announces definitions found in a
// newly created directory.
func (l *watchLoop) indexNewDir(dirPath string) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if l.opts.QuerySuffix != "" && strings.HasSuffix(rel, l.opts.QuerySuffix) {
			l.publish(events.Event{Kind: events.Created, Path: rel, Definition: true})
			return nil
		}
		if !strings.HasSuffix(rel, storage.MarkdownSuffix) {
			return nil
		}
		data, readErr := l.store.Read(rel)
		if readErr != nil {
			return nil
		}
		if idxErr := IndexFile(l.db, rel, data, time.Time{}); idxErr == nil {
			l.logger.Debug("watcher: indexed from new dir", slog.String("path", rel))
			l.publish(events.Event{Kind: events.Created, Path: rel})
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
