package orchestration

import (
	"fmt"
	"sync"
)

// OrchestratorFunc is deterministic orchestration logic. It must reach the same
// CallActivity sequence for the same history and must not touch clocks, randomness
// or I/O directly; every side effect goes through an activity.
type OrchestratorFunc func(ctx *Context) (any, error)

// Registry maps orchestrator names to their logic.
type Registry struct {
	mu            sync.RWMutex
	orchestrators map[string]OrchestratorFunc
}

func NewRegistry() *Registry {
	return &Registry{orchestrators: make(map[string]OrchestratorFunc)}
}

// Register adds an orchestrator. Registering the same name twice is an error.
func (r *Registry) Register(name string, fn OrchestratorFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orchestrators[name]; exists {
		return fmt.Errorf("orchestrator %q already registered", name)
	}

	r.orchestrators[name] = fn

	return nil
}

func (r *Registry) Get(name string) (OrchestratorFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.orchestrators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrchestratorNotFound, name)
	}

	return fn, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.orchestrators))
	for name := range r.orchestrators {
		names = append(names, name)
	}

	return names
}
