package writer

import "sync"

// Registry tracks one Queue per database path. The owning service holds a
// single Registry and shares it with every component that writes.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
	opts   Options
}

// NewRegistry creates an empty registry whose queues use opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		queues: make(map[string]*Queue),
		opts:   opts,
	}
}

// Get returns the queue for path, starting one if needed.
func (r *Registry) Get(path string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[path]; ok {
		return q
	}
	q := NewQueue(path, r.opts)
	r.queues[path] = q
	return q
}

// Lookup returns the queue for path without creating one.
func (r *Registry) Lookup(path string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[path]
	return q, ok
}

// Stop shuts down and removes the queue for path, if any.
func (r *Registry) Stop(path string, wait bool) {
	r.mu.Lock()
	q, ok := r.queues[path]
	if ok {
		delete(r.queues, path)
	}
	r.mu.Unlock()

	if ok {
		q.Stop(wait)
	}
}

// StopAll shuts down every queue. Called on service shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.queues = make(map[string]*Queue)
	r.mu.Unlock()

	for _, q := range queues {
		q.Stop(true)
	}
}
