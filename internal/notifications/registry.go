package notifications

import (
	"context"
	"sort"
	"sync"
)

// KindHandler builds and dispatches the message for one notification kind.
type KindHandler interface {
	Handle(ctx context.Context, item *QueueItem) Outcome
}

// KindHandlerFunc adapts a function to KindHandler.
type KindHandlerFunc func(ctx context.Context, item *QueueItem) Outcome

// Handle calls f(ctx, item).
func (f KindHandlerFunc) Handle(ctx context.Context, item *QueueItem) Outcome {
	return f(ctx, item)
}

// Registry maps notification kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]KindHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]KindHandler)}
}

// Register sets the handler for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, h KindHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind Kind) (KindHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
