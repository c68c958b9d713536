// Package notify delivers saved-query notifications to their consumers.
package notify

import (
	"context"
	"log/slog"

	"github.com/starford/tasklink/internal/models"
)

// Dispatcher delivers one notification. Implementations must not block the
// caller for longer than it takes to enqueue the payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n models.Notification)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, n models.Notification) { f(ctx, n) }

// Fanout forwards every notification to each dispatcher in order.
type Fanout struct {
	targets []Dispatcher
}

// NewFanout returns a fanout over the non-nil dispatchers.
func NewFanout(targets ...Dispatcher) *Fanout {
	f := &Fanout{}
	for _, d := range targets {
		if d != nil {
			f.targets = append(f.targets, d)
		}
	}
	return f
}

// Dispatch implements Dispatcher.
func (f *Fanout) Dispatch(ctx context.Context, n models.Notification) {
	for _, d := range f.targets {
		d.Dispatch(ctx, n)
	}
}

// Len returns the number of targets.
func (f *Fanout) Len() int { return len(f.targets) }

// LogDispatcher writes notifications to a structured logger.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a log dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(ctx context.Context, n models.Notification) {
	paths := make([]string, 0, len(n.Items))
	tasks := 0
	for _, it := range n.Items {
		paths = append(paths, it.Path)
		if it.IsTask {
			tasks++
		}
	}
	d.logger.InfoContext(ctx, "notify: query results changed",
		slog.String("query", n.QueryID),
		slog.String("name", n.QueryName),
		slog.Int("items", len(n.Items)),
		slog.Int("tasks", tasks),
		slog.Any("paths", paths))
}
