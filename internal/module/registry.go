package module

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the process-wide, immutable-after-startup set of installed
// operation types. Modules are registered at process start (main calls
// builtin.Register before Seal, mirroring the teacher's static wiring in
// pipeline.newRouter) and the set never changes thereafter.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register installs a module under its descriptor's Op name. It panics on a
// duplicate registration or a registration after Seal, since both indicate
// a programming error in process wiring, not a runtime condition.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("module: Register(%q) after Seal", m.Descriptor().Op))
	}
	op := m.Descriptor().Op
	if _, exists := r.modules[op]; exists {
		panic(fmt.Sprintf("module: duplicate registration for %q", op))
	}
	r.modules[op] = m
}

// Seal freezes the registry; Register panics afterwards. Called once at
// process start after all builtin modules have registered.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the module installed for op, if any.
func (r *Registry) Lookup(op string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[op]
	return m, ok
}

// Descriptor is a convenience wrapper around Lookup for callers that only
// need the static descriptor.
func (r *Registry) Descriptor(op string) (Descriptor, bool) {
	m, ok := r.Lookup(op)
	if !ok {
		return Descriptor{}, false
	}
	return m.Descriptor(), true
}

// All returns every installed module's descriptor, sorted by Op for
// deterministic iteration (e.g. when instantiating one instance per type on
// image load, §3 "Lifecycle").
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}
