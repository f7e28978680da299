package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/log"
)

var ErrUnknownInterrupt = errors.New("unknown interrupt kind")

// Notify publishes a correlated response for a suspended node execution.
// External systems call this when their asynchronous work completes
func (e *Engine) Notify(
	ctx context.Context, id api.CallbackID, payload []byte, errMsg string,
) error {
	ev := &api.NotifyEvent{
		CorrelationID: id,
		Payload:       payload,
		Error:         errMsg,
	}
	return e.publish(ctx, api.TopicNotify, string(id), api.EventTypeNotify, ev)
}

// Abort requests cancellation of a single node execution
func (e *Engine) Abort(
	ctx context.Context, planExecutionID api.PlanExecutionID,
	id api.NodeExecutionID, reason string,
) error {
	ev := &api.InterruptEvent{
		PlanExecutionID: planExecutionID,
		NodeExecutionID: id,
		Kind:            api.InterruptAbort,
		UserInitiated:   true,
		Reason:          reason,
	}
	return e.publish(
		ctx, api.TopicInterrupt, string(planExecutionID),
		api.EventTypeInterrupt, ev,
	)
}

// AbortAll requests cancellation of every live node execution in a plan
// execution
func (e *Engine) AbortAll(
	ctx context.Context, planExecutionID api.PlanExecutionID, reason string,
) error {
	ev := &api.InterruptEvent{
		PlanExecutionID: planExecutionID,
		Kind:            api.InterruptAbortAll,
		UserInitiated:   true,
		Reason:          reason,
	}
	return e.publish(
		ctx, api.TopicInterrupt, string(planExecutionID),
		api.EventTypeInterrupt, ev,
	)
}

func (e *Engine) handleInterrupt(
	ctx context.Context, ev *api.InterruptEvent,
) error {
	switch ev.Kind {
	case api.InterruptAbort:
		return e.abortNode(ctx, ev.NodeExecutionID, ev)
	case api.InterruptAbortAll:
		return e.abortPlanExecution(ctx, ev)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInterrupt, ev.Kind)
	}
}

// abortNode cancels one live execution. An interrupt racing a genuine
// completion carries no priority: whichever side wins the status swap
// settles the execution, and the loser backs off
func (e *Engine) abortNode(
	ctx context.Context, id api.NodeExecutionID, ev *api.InterruptEvent,
) error {
	exec, err := e.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return nil
	}

	reason := ev.Reason
	if reason == "" {
		reason = "aborted"
	}
	live := []api.Status{
		api.StatusQueued,
		api.StatusRunning,
		api.StatusAsyncWaiting,
		api.StatusTaskWaiting,
	}
	patch := &store.Patch{
		EndTS:           e.Now(),
		Failure:         api.NewFailure(api.FailureAborted, reason),
		ClearSuspension: true,
	}
	aborted, err := e.swapStatus(ctx, id, live, api.StatusAborted, patch)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	// the cleanup hook runs only on the winning side; an abort that lost
	// to a genuine completion must leave the step untouched
	if exec.Status.IsWaiting() && exec.Suspension != nil {
		e.notifyAbortHook(ctx, exec, ev.UserInitiated)
	}

	slog.Info("Node execution aborted",
		log.NodeExecutionID(aborted.ID),
		log.NodeID(aborted.NodeID))

	node, err := e.resolveNode(ctx, aborted.PlanID, aborted.NodeID)
	if err != nil {
		return err
	}
	return e.advance(ctx, aborted, node)
}

func (e *Engine) abortPlanExecution(
	ctx context.Context, ev *api.InterruptEvent,
) error {
	live, err := e.store.FindByPlanExecution(
		ctx, ev.PlanExecutionID,
		api.StatusQueued, api.StatusRunning,
		api.StatusAsyncWaiting, api.StatusTaskWaiting,
	)
	if err != nil {
		return err
	}

	for _, exec := range live {
		if err := e.abortNode(ctx, exec.ID, ev); err != nil {
			return err
		}
	}

	_, err = e.store.UpdatePlanExecutionStatus(
		ctx, ev.PlanExecutionID, []api.Status{api.StatusRunning},
		api.StatusAborted,
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	return err
}

// notifyAbortHook runs the step's cleanup hook best-effort; a hook failure
// never blocks the abort itself
func (e *Engine) notifyAbortHook(
	ctx context.Context, exec *api.NodeExecution, userInitiated bool,
) {
	node, err := e.resolveNode(ctx, exec.PlanID, exec.NodeID)
	if err != nil {
		return
	}
	step, err := e.registry.Resolve(node.StepType)
	if err != nil {
		return
	}
	abortable, ok := step.(api.Abortable)
	if !ok {
		return
	}
	err = abortable.OnAbort(
		ctx, exec.Ambiance, node.Params, exec.Suspension, userInitiated,
	)
	if err != nil {
		slog.Warn("Abort hook returned error",
			log.NodeExecutionID(exec.ID),
			log.Error(err))
	}
}
