package querywatch

import (
	"sync"

	"github.com/starford/tasklink/internal/models"
)

// ResultProvider returns the results a UI surface already computed for an
// open query.
type ResultProvider interface {
	Results() []models.NotificationItem
}

// StaticResults is a result snapshot pushed by a client.
type StaticResults []models.NotificationItem

// Results implements ResultProvider.
func (s StaticResults) Results() []models.NotificationItem { return s }

// LiveViews maps query paths to the surfaces currently showing them.
type LiveViews struct {
	mu     sync.RWMutex
	nextID uint64
	views  map[string]liveView
}

type liveView struct {
	id       uint64
	provider ResultProvider
}

// NewLiveViews returns an empty registry.
func NewLiveViews() *LiveViews {
	return &LiveViews{views: make(map[string]liveView)}
}

// Register binds queryPath to provider until the returned function is
// called. A later registration for the same path replaces the earlier one;
// unregistering a replaced view is a no-op.
func (l *LiveViews) Register(queryPath string, provider ResultProvider) (unregister func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.views[queryPath] = liveView{id: id, provider: provider}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		if v, ok := l.views[queryPath]; ok && v.id == id {
			delete(l.views, queryPath)
		}
		l.mu.Unlock()
	}
}

// Remove drops whatever view is registered for queryPath.
func (l *LiveViews) Remove(queryPath string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.views[queryPath]
	delete(l.views, queryPath)
	return ok
}

// Lookup returns the provider registered for queryPath.
func (l *LiveViews) Lookup(queryPath string) (ResultProvider, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.views[queryPath]
	return v.provider, ok
}

// Clear removes every registration.
func (l *LiveViews) Clear() {
	l.mu.Lock()
	l.views = make(map[string]liveView)
	l.mu.Unlock()
}
