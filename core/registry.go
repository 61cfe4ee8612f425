package core

import "sync"

// DefaultRegistry is a thread-safe Registry implementation.
type DefaultRegistry struct {
	mu      sync.RWMutex
	sources map[SourceFormat]ImageSource
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{sources: make(map[SourceFormat]ImageSource)}
}

func (r *DefaultRegistry) RegisterSource(f SourceFormat, s ImageSource) {
	r.mu.Lock()
	r.sources[f] = s
	r.mu.Unlock()
}

func (r *DefaultRegistry) SourceFor(f SourceFormat) (ImageSource, bool) {
	r.mu.RLock()
	s, ok := r.sources[f]
	r.mu.RUnlock()
	return s, ok
}
