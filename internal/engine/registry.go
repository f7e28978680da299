package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hemanthmantri/conduit/pkg/api"
)

// Registry resolves step types to their implementations. Registration
// happens at startup; resolution is lock-free reads thereafter
type Registry struct {
	steps map[api.StepType]api.Executable
	mu    sync.RWMutex
}

var (
	ErrStepTypeExists  = errors.New("step type already registered")
	ErrStepTypeUnknown = errors.New("step type not registered")
)

// NewRegistry creates an empty step registry
func NewRegistry() *Registry {
	return &Registry{
		steps: map[api.StepType]api.Executable{},
	}
}

// Register binds a step type to its implementation
func (r *Registry) Register(t api.StepType, step api.Executable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.steps[t]; ok {
		return fmt.Errorf("%w: %s", ErrStepTypeExists, t)
	}
	r.steps[t] = step
	return nil
}

// Resolve returns the implementation for a step type
func (r *Registry) Resolve(t api.StepType) (api.Executable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.steps[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepTypeUnknown, t)
	}
	return step, nil
}
