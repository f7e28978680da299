package engine

import (
	"context"
	"fmt"

	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/util"
)

// StateTransitions maps states to their set of valid next states
//
// Generic state transition tables are used to validate node and plan
// execution status changes
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	nodeTransitions = StateTransitions[api.Status]{
		api.StatusQueued: util.SetOf(
			api.StatusRunning,
			api.StatusSkipped,
			api.StatusFailed,
			api.StatusAborted,
		),
		api.StatusRunning: util.SetOf(
			api.StatusAsyncWaiting,
			api.StatusTaskWaiting,
			api.StatusSucceeded,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusAsyncWaiting: util.SetOf(
			api.StatusRunning,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusTaskWaiting: util.SetOf(
			api.StatusRunning,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusSucceeded: {},
		api.StatusFailed:    {},
		api.StatusAborted:   {},
		api.StatusExpired:   {},
		api.StatusSkipped:   {},
	}

	planTransitions = StateTransitions[api.Status]{
		api.StatusRunning: util.SetOf(
			api.StatusSucceeded,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusSucceeded: {},
		api.StatusFailed:    {},
		api.StatusAborted:   {},
		api.StatusExpired:   {},
	}
)

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.Empty()
}

// swapStatus guards the store's conditional swap with the transition
// table, so a move the state machine does not allow is rejected before it
// reaches the store
func (e *Engine) swapStatus(
	ctx context.Context, id api.NodeExecutionID, expected []api.Status,
	next api.Status, patch *store.Patch,
) (*api.NodeExecution, error) {
	for _, from := range expected {
		if !nodeTransitions.CanTransition(from, next) {
			return nil, fmt.Errorf("%w: %s to %s",
				ErrInvalidTransition, from, next)
		}
	}
	return e.store.CompareAndSwapStatus(ctx, id, expected, next, patch)
}
