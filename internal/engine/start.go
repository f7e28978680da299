package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/log"
)

// CreatePlan validates and persists an immutable plan graph
func (e *Engine) CreatePlan(ctx context.Context, plan *api.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	return e.store.CreatePlan(ctx, plan)
}

// SubmitPlan deposits a plan-created event on the log. The engine picks it
// up like any externally created plan and begins executing it
func (e *Engine) SubmitPlan(
	ctx context.Context, plan *api.Plan, scope map[string]string,
) (api.PlanExecutionID, error) {
	if err := plan.Validate(); err != nil {
		return "", err
	}
	planExecID := api.PlanExecutionID(uuid.NewString())
	ev := &api.PlanCreatedEvent{
		Plan:            plan,
		Scope:           scope,
		PlanExecutionID: planExecID,
	}
	err := e.publish(
		ctx, api.TopicPlanEvents, string(planExecID),
		api.EventTypePlanCreated, ev,
	)
	if err != nil {
		return "", err
	}
	return planExecID, nil
}

// handlePlanCreated persists the plan and its execution, then starts the
// root node. Every write is idempotent, so a redelivered event converges
// on the same state and re-emits the same deterministic root start
func (e *Engine) handlePlanCreated(
	ctx context.Context, ev *api.PlanCreatedEvent,
) error {
	if err := ev.Plan.Validate(); err != nil {
		return err
	}
	err := e.store.CreatePlan(ctx, ev.Plan)
	if err != nil && !errors.Is(err, api.ErrPlanExists) &&
		!errors.Is(err, store.ErrAlreadyExists) {
		return err
	}

	exec := &api.PlanExecution{
		ID:        ev.PlanExecutionID,
		PlanID:    ev.Plan.ID,
		Status:    api.StatusRunning,
		Scope:     ev.Scope,
		CreatedAt: e.Now(),
	}
	err = e.store.CreatePlanExecution(ctx, exec)
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}

	slog.Info("Plan execution starting",
		log.PlanID(ev.Plan.ID),
		log.PlanExecutionID(ev.PlanExecutionID))

	amb := api.NewAmbiance(ev.PlanExecutionID, ev.Scope).PushLevel(&api.Level{
		RuntimeID: api.NewRuntimeID(),
		NodeID:    ev.Plan.StartNodeID,
		Category:  api.LevelStep,
	})
	return e.publishNodeStart(ctx, &api.NodeStartEvent{
		NodeExecutionID: deriveExecutionID(
			ev.PlanExecutionID, ev.Plan.StartNodeID, "",
		),
		NodeID:   ev.Plan.StartNodeID,
		Ambiance: amb,
	})
}

// handleNodeStart creates the node execution and runs it. Creation returns
// already-exists on redelivery; the run is then re-attempted only if the
// execution is still queued, which the status swap enforces
func (e *Engine) handleNodeStart(
	ctx context.Context, ev *api.NodeStartEvent,
) error {
	planExec, err := e.store.GetPlanExecution(
		ctx, ev.Ambiance.PlanExecutionID,
	)
	if err != nil {
		return err
	}
	if planTransitions.IsTerminal(planExec.Status) {
		slog.Debug("Dropping node start for terminal plan execution",
			log.PlanExecutionID(planExec.ID),
			log.NodeID(ev.NodeID))
		return nil
	}

	node, err := e.resolveNode(ctx, planExec.PlanID, ev.NodeID)
	if err != nil {
		return err
	}

	exec := &api.NodeExecution{
		ID:         ev.NodeExecutionID,
		NodeID:     ev.NodeID,
		PlanID:     planExec.PlanID,
		Status:     api.StatusQueued,
		Ambiance:   ev.Ambiance,
		ParentID:   ev.ParentID,
		PreviousID: ev.PreviousID,
		RetryIndex: ev.RetryIndex,
		RetryIDs:   ev.RetryIDs,
	}
	err = e.store.CreateNodeExecution(ctx, exec)
	if errors.Is(err, store.ErrAlreadyExists) {
		existing, getErr := e.store.Get(ctx, ev.NodeExecutionID)
		if getErr != nil {
			return getErr
		}
		if existing.Status != api.StatusQueued {
			return nil
		}
		exec = existing
	} else if err != nil {
		return err
	}

	return e.runNode(ctx, exec, node, planExec)
}

func (e *Engine) runNode(
	ctx context.Context, exec *api.NodeExecution, node *api.Node,
	planExec *api.PlanExecution,
) error {
	skip, err := e.shouldSkip(node, planExec, exec)
	if err != nil {
		return e.failNode(ctx, exec, api.NewFailure(
			api.FailureInternal, err.Error(),
		))
	}
	if skip {
		return e.skipNode(ctx, exec, node)
	}

	running, err := e.swapStatus(
		ctx, exec.ID, []api.Status{api.StatusQueued}, api.StatusRunning,
		&store.Patch{StartTS: e.Now()},
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Node execution running",
		log.NodeExecutionID(exec.ID),
		log.NodeID(exec.NodeID))

	if len(node.Children) > 0 {
		return e.startChildren(ctx, running, node)
	}
	return e.invokeStart(ctx, running, node)
}

// invokeStart calls the step implementation and interprets its response.
// A protocol violation forces an internal failure rather than a retry;
// redelivering a structurally malformed response would never succeed
func (e *Engine) invokeStart(
	ctx context.Context, exec *api.NodeExecution, node *api.Node,
) error {
	step, err := e.registry.Resolve(node.StepType)
	if err != nil {
		return e.failNode(ctx, exec, api.NewFailure(
			api.FailureInternal, err.Error(),
		))
	}

	inputs, err := e.gatherInputs(ctx, exec)
	if err != nil {
		return err
	}

	resp, err := step.Start(ctx, exec.Ambiance, node.Params, inputs)
	if err != nil {
		return e.failNode(ctx, exec, api.NewFailure(
			api.FailureApplication, err.Error(),
		))
	}
	if err := resp.Validate(); err != nil {
		return e.failNode(ctx, exec, api.NewFailure(
			api.FailureInternal, err.Error(),
		))
	}

	if resp.Final != nil {
		return e.concludeNode(ctx, exec, resp.Final)
	}
	return e.suspendNode(ctx, exec, node, resp.Async)
}

// startChildren fans a container node out to its children. The container
// stays running until rollup settles it from the children's terminal
// statuses
func (e *Engine) startChildren(
	ctx context.Context, exec *api.NodeExecution, node *api.Node,
) error {
	for _, childID := range node.Children {
		level := &api.Level{
			RuntimeID: api.NewRuntimeID(),
			NodeID:    childID,
			Category:  api.LevelStep,
			Group:     node.Group,
		}
		ev := &api.NodeStartEvent{
			NodeExecutionID: deriveExecutionID(
				exec.Ambiance.PlanExecutionID, childID, exec.ID,
			),
			NodeID:   childID,
			ParentID: exec.ID,
			Ambiance: exec.Ambiance.PushLevel(level),
		}
		if err := e.publishNodeStart(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// gatherInputs feeds a node the outputs of its previous sibling
func (e *Engine) gatherInputs(
	ctx context.Context, exec *api.NodeExecution,
) (api.Args, error) {
	if exec.PreviousID == "" {
		return api.Args{}, nil
	}
	prev, err := e.store.Get(ctx, exec.PreviousID)
	if err != nil {
		return nil, err
	}
	if prev.Outputs == nil {
		return api.Args{}, nil
	}
	return prev.Outputs, nil
}

func (e *Engine) skipNode(
	ctx context.Context, exec *api.NodeExecution, node *api.Node,
) error {
	slog.Info("Node execution skipped",
		log.NodeExecutionID(exec.ID),
		log.NodeID(exec.NodeID))

	skipped, err := e.swapStatus(
		ctx, exec.ID, []api.Status{api.StatusQueued}, api.StatusSkipped,
		&store.Patch{EndTS: e.Now()},
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.advance(ctx, skipped, node)
}

func (e *Engine) publishNodeStart(
	ctx context.Context, ev *api.NodeStartEvent,
) error {
	return e.publish(
		ctx, api.TopicNodeStart, string(ev.Ambiance.PlanExecutionID),
		api.EventTypeNodeStart, ev,
	)
}

// deriveExecutionID assigns stable node execution ids so a redelivered
// start event names the same execution instead of spawning a duplicate
func deriveExecutionID(
	planExecutionID api.PlanExecutionID, nodeID api.NodeID,
	parentID api.NodeExecutionID,
) api.NodeExecutionID {
	seed := fmt.Sprintf("%s/%s/%s", planExecutionID, parentID, nodeID)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	return api.NodeExecutionID(id.String())
}
