// Package events carries vault change notifications from the file watcher
// to the components that react to them.
package events

import "sync"

// Kind classifies a change.
type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

// Event is one change to a vault file. Definition is set for saved-query
// definition files; all other events concern Markdown documents.
type Event struct {
	Kind       Kind
	Path       string
	Definition bool
}

// Publisher accepts change events.
type Publisher interface {
	Publish(Event)
}

// Feed fans events out to subscribers synchronously, in subscription order.
// Subscribers must not block.
type Feed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is a no-op.
func (f *Feed) Subscribe(fn func(Event)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.order = append(f.order, id)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i], f.order[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (f *Feed) Publish(ev Event) {
	f.mu.RLock()
	fns := make([]func(Event), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.subs[id])
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of active subscribers.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
