// Package tool provides the registry mapping tool names to state transformers.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stepflow-ai/stepflow/engine/graph"
)

// Registry manages named tools. It is populated once at startup and
// treated as immutable thereafter; the engine only resolves from it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]graph.Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]graph.Tool)}
}

// Register adds a tool under the given name, replacing any previous entry.
func (r *Registry) Register(name string, fn graph.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (graph.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tools[name]
	return fn, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call resolves and invokes a tool in one step.
func (r *Registry) Call(ctx context.Context, name string, state graph.State) (graph.State, error) {
	fn, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	return fn(ctx, state)
}
