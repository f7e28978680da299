package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hemanthmantri/conduit/internal/engine/nodecache"
	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/log"
)

// concludeNode transitions a running execution to the step's terminal
// outcome and advances the plan. Losing the swap means another writer
// already settled the execution, which is a no-op by contract
func (e *Engine) concludeNode(
	ctx context.Context, exec *api.NodeExecution, resp *api.StepResponse,
) error {
	patch := &store.Patch{
		EndTS:           e.Now(),
		Outputs:         resp.Outputs,
		Failure:         resp.Failure,
		ClearSuspension: true,
	}
	settled, err := e.swapStatus(
		ctx, exec.ID, []api.Status{api.StatusRunning}, resp.Status, patch,
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Node execution concluded",
		log.NodeExecutionID(settled.ID),
		log.NodeID(settled.NodeID),
		log.Status(settled.Status))

	node, err := e.resolveNode(ctx, settled.PlanID, settled.NodeID)
	if err != nil {
		return err
	}
	return e.advance(ctx, settled, node)
}

// failNode forces a terminal failure from any live status, invoked for
// protocol violations and step errors
func (e *Engine) failNode(
	ctx context.Context, exec *api.NodeExecution, failure *api.FailureInfo,
) error {
	slog.Warn("Node execution failed",
		log.NodeExecutionID(exec.ID),
		log.NodeID(exec.NodeID),
		log.ErrorString(failure.Message))

	live := []api.Status{
		api.StatusQueued,
		api.StatusRunning,
		api.StatusAsyncWaiting,
		api.StatusTaskWaiting,
	}
	patch := &store.Patch{
		EndTS:           e.Now(),
		Failure:         failure,
		ClearSuspension: true,
	}
	failed, err := e.swapStatus(ctx, exec.ID, live, api.StatusFailed, patch)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	node, err := e.resolveNode(ctx, failed.PlanID, failed.NodeID)
	if err != nil {
		return err
	}
	return e.advance(ctx, failed, node)
}

// advance moves the plan forward after a node settles: a positive outcome
// starts the next sibling, anything else rolls up immediately
func (e *Engine) advance(
	ctx context.Context, exec *api.NodeExecution, node *api.Node,
) error {
	if exec.Status.IsPositive() && node.NextID != "" {
		level := &api.Level{
			RuntimeID: api.NewRuntimeID(),
			NodeID:    node.NextID,
			Category:  api.LevelStep,
			Group:     node.Group,
		}
		ev := &api.NodeStartEvent{
			NodeExecutionID: deriveExecutionID(
				exec.Ambiance.PlanExecutionID, node.NextID, exec.ParentID,
			),
			NodeID:     node.NextID,
			ParentID:   exec.ParentID,
			PreviousID: exec.ID,
			Ambiance:   exec.Ambiance.Parent().PushLevel(level),
		}
		return e.publishNodeStart(ctx, ev)
	}
	return e.rollup(ctx, exec)
}

// rollup settles the parent subtree, or the plan execution at the root,
// once every child in the chain has reached a terminal status
func (e *Engine) rollup(
	ctx context.Context, exec *api.NodeExecution,
) error {
	if exec.ParentID == "" {
		return e.settlePlanExecution(ctx, exec)
	}

	cache := nodecache.New(e.store, exec.Ambiance.PlanExecutionID)
	terminal, pending, err := cache.TerminalChildStatuses(
		ctx, exec.ParentID, true,
	)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}
	spawned, err := e.childrenFullySpawned(ctx, cache, exec)
	if err != nil {
		return err
	}
	if !spawned {
		return nil
	}

	outcome := aggregateStatuses(terminal)
	patch := &store.Patch{EndTS: e.Now()}
	if !outcome.IsPositive() {
		patch.Failure = api.NewFailure(
			failureTypeFor(outcome), "child execution did not succeed",
		)
	}
	parent, err := e.swapStatus(
		ctx, exec.ParentID, []api.Status{api.StatusRunning}, outcome, patch,
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	node, err := e.resolveNode(ctx, parent.PlanID, parent.NodeID)
	if err != nil {
		return err
	}
	return e.advance(ctx, parent, node)
}

// childrenFullySpawned reports whether the container holds a row for every
// child it will ever produce: a chain head per declared child, and a
// successor behind every positive link that names a next node. Start
// events travel the log, so a fast early child can settle before a
// sibling's execution row exists; aggregating then would close the
// container without it
func (e *Engine) childrenFullySpawned(
	ctx context.Context, cache *nodecache.Cache, exec *api.NodeExecution,
) (bool, error) {
	parent, err := cache.Fetch(ctx, exec.ParentID)
	if err != nil {
		return false, err
	}
	parentNode, err := cache.FetchNode(ctx, parent.PlanID, parent.NodeID)
	if err != nil {
		return false, err
	}
	children, err := cache.FetchChildren(ctx, exec.ParentID)
	if err != nil {
		return false, err
	}

	heads := map[api.NodeID]struct{}{}
	successors := map[api.NodeExecutionID]struct{}{}
	for _, child := range children {
		if child.PreviousID == "" {
			heads[child.NodeID] = struct{}{}
		} else {
			successors[child.PreviousID] = struct{}{}
		}
	}
	for _, id := range parentNode.Children {
		if _, ok := heads[id]; !ok {
			return false, nil
		}
	}

	for _, child := range children {
		if !child.Status.IsPositive() {
			continue
		}
		childNode, err := cache.FetchNode(ctx, parent.PlanID, child.NodeID)
		if err != nil {
			return false, err
		}
		if childNode.NextID == "" {
			continue
		}
		if _, ok := successors[child.ID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) settlePlanExecution(
	ctx context.Context, exec *api.NodeExecution,
) error {
	outcome := exec.Status
	if outcome == api.StatusSkipped {
		outcome = api.StatusSucceeded
	}

	planExec, err := e.store.UpdatePlanExecutionStatus(
		ctx, exec.Ambiance.PlanExecutionID,
		[]api.Status{api.StatusRunning}, outcome,
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Plan execution settled",
		log.PlanExecutionID(planExec.ID),
		log.Status(planExec.Status))

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, planExec.ID); err != nil {
			slog.Error("Plan execution archive failed",
				log.PlanExecutionID(planExec.ID),
				log.Error(err))
		}
	}
	return nil
}

// aggregateStatuses reduces terminal child statuses to the parent outcome,
// worst first
func aggregateStatuses(statuses []api.Status) api.Status {
	severity := []api.Status{
		api.StatusAborted,
		api.StatusExpired,
		api.StatusFailed,
	}
	for _, worst := range severity {
		for _, s := range statuses {
			if s == worst {
				return worst
			}
		}
	}
	return api.StatusSucceeded
}

func failureTypeFor(s api.Status) api.FailureType {
	switch s {
	case api.StatusAborted:
		return api.FailureAborted
	case api.StatusExpired:
		return api.FailureTimeout
	default:
		return api.FailureApplication
	}
}
