package downloader

import (
	"sync"
)

// Registry enforces single-flight per resource: at most one live task per
// resource id, with concurrent starts attaching to the existing one. The
// table is the only state shared across resources; everything inside a task
// is scoped to its own transfer goroutine.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// Admit returns the live task for resourceID, creating one via create when
// none exists. The second return reports whether this call created it and
// therefore owns running the transfer.
func (r *Registry) Admit(resourceID string, create func() *task) (*task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tasks[resourceID]; ok {
		return t, false
	}

	t := create()
	r.tasks[resourceID] = t

	return t, true
}

// Get returns the live task for resourceID, if any.
func (r *Registry) Get(resourceID string) (*task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[resourceID]

	return t, ok
}

// Release frees the slot, but only if it still holds the given task. A fresh
// start admitted after a cancel must not be evicted by the old transfer's
// cleanup.
func (r *Registry) Release(resourceID string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.tasks[resourceID]; ok && current == t {
		delete(r.tasks, resourceID)
	}
}

// Live returns the tasks currently in flight.
func (r *Registry) Live() []*task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}

	return out
}

// Len reports the number of in-flight transfers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks)
}
