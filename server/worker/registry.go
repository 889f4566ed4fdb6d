package worker

import (
	"fmt"
	"sync"
)

// Worker is a background component with a start/stop lifecycle
type Worker interface {
	// Name identifies the worker in the registry and in logs
	Name() string

	// Start begins the worker's background activity
	Start() error

	// Stop shuts the worker down and waits for it to finish
	Stop() error
}

// Registry owns the running background workers of the plugin.
// It provides thread-safe operations for starting, retrieving and stopping them.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
	order   []string
}

// NewRegistry creates an empty worker registry
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]Worker),
	}
}

// Register starts a worker and adds it to the registry.
// Returns an error if a worker with the same name exists or it fails to start.
func (r *Registry) Register(w Worker) error {
	if w == nil {
		return fmt.Errorf("cannot register nil worker")
	}

	name := w.Name()
	if name == "" {
		return fmt.Errorf("worker name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[name]; exists {
		return fmt.Errorf("worker %s already registered", name)
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker %s: %w", name, err)
	}

	r.workers[name] = w
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a worker from the registry and stops it.
// The worker is always removed, even if Stop fails.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	w, exists := r.workers[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("worker %s not found", name)
	}

	delete(r.workers, name)
	r.order = removeName(r.order, name)
	r.mu.Unlock()

	// Stop after releasing the lock so a slow worker does not block the registry
	if err := w.Stop(); err != nil {
		return fmt.Errorf("failed to stop worker %s: %w", name, err)
	}

	return nil
}

// Get retrieves a worker by name. Returns nil if it is not registered.
func (r *Registry) Get(name string) Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.workers[name]
}

// Names returns the registered worker names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// UnregisterAll stops every worker in reverse registration order.
// Returns the first error encountered, but continues stopping the remaining workers.
func (r *Registry) UnregisterAll() error {
	r.mu.Lock()
	workers := make([]Worker, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		workers = append(workers, r.workers[r.order[i]])
	}
	r.workers = make(map[string]Worker)
	r.order = nil
	r.mu.Unlock()

	var firstError error
	for _, w := range workers {
		if err := w.Stop(); err != nil && firstError == nil {
			firstError = fmt.Errorf("failed to stop worker %s: %w", w.Name(), err)
		}
	}

	return firstError
}

// Count returns the number of registered workers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.workers)
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// funcWorker adapts a component that starts itself when constructed
type funcWorker struct {
	name string
	stop func()
}

// Background wraps a component whose goroutines are already running.
// Start is a no-op and Stop calls stop.
func Background(name string, stop func()) Worker {
	return &funcWorker{name: name, stop: stop}
}

func (w *funcWorker) Name() string { return w.name }
func (w *funcWorker) Start() error { return nil }

func (w *funcWorker) Stop() error {
	w.stop()
	return nil
}
