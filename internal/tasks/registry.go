package tasks

import (
	"fmt"
	"sync"
)

// Handler runs one task type. Run reports progress through the Context and
// calls Succeed itself; a returned error is classified and persisted by the
// worker, so handlers only decide what failed, not whether to retry.
type Handler interface {
	Type() string
	Run(tc *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for task_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}
