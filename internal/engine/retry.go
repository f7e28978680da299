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

var ErrNotRetryable = errors.New("node execution not retryable")

// RetryNodeExecution re-attempts a failed or expired node execution. The
// new attempt runs the same node under a fresh runtime id and carries the
// prior attempt chain in its retry metadata; rollup treats superseded
// attempts as if they never happened. A root node retry reopens the plan
// execution, a child retry requires its parent to still be live
func (e *Engine) RetryNodeExecution(
	ctx context.Context, id api.NodeExecutionID,
) (api.NodeExecutionID, error) {
	exec, err := e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if exec.Status != api.StatusFailed && exec.Status != api.StatusExpired {
		return "", fmt.Errorf("%w: %s is %s", ErrNotRetryable, id,
			exec.Status)
	}

	if exec.ParentID == "" {
		if err := e.reopenPlanExecution(ctx, exec); err != nil {
			return "", err
		}
	} else {
		parent, err := e.store.Get(ctx, exec.ParentID)
		if err != nil {
			return "", err
		}
		if parent.Status.IsTerminal() {
			return "", fmt.Errorf("%w: parent %s already settled as %s",
				ErrNotRetryable, parent.ID, parent.Status)
		}
	}

	current := exec.Ambiance.CurrentLevel()
	level := &api.Level{
		RuntimeID: api.NewRuntimeID(),
		NodeID:    exec.NodeID,
		Category:  api.LevelStep,
	}
	if current != nil {
		level.Category = current.Category
		level.Group = current.Group
	}

	attempt := exec.RetryIndex + 1
	ev := &api.NodeStartEvent{
		NodeExecutionID: deriveRetryExecutionID(
			exec.Ambiance.PlanExecutionID, exec.NodeID, exec.ParentID,
			attempt,
		),
		NodeID:     exec.NodeID,
		ParentID:   exec.ParentID,
		PreviousID: exec.PreviousID,
		Ambiance:   exec.Ambiance.Parent().PushLevel(level),
		RetryIndex: attempt,
		RetryIDs:   append(exec.RetryIDs, exec.ID),
	}

	slog.Info("Node execution retrying",
		log.NodeExecutionID(exec.ID),
		log.NodeID(exec.NodeID),
		slog.Int("attempt", attempt))

	if err := e.publishNodeStart(ctx, ev); err != nil {
		return "", err
	}
	return ev.NodeExecutionID, nil
}

// reopenPlanExecution moves a negatively settled plan execution back to
// running so a root retry has somewhere to report. A plan that settled
// positively, or was aborted, stays settled
func (e *Engine) reopenPlanExecution(
	ctx context.Context, exec *api.NodeExecution,
) error {
	reopenable := []api.Status{
		api.StatusRunning,
		api.StatusFailed,
		api.StatusExpired,
	}
	_, err := e.store.UpdatePlanExecutionStatus(
		ctx, exec.Ambiance.PlanExecutionID, reopenable, api.StatusRunning,
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: plan execution %s already settled",
			ErrNotRetryable, exec.Ambiance.PlanExecutionID)
	}
	return err
}

// deriveRetryExecutionID extends the stable id derivation with the attempt
// number so each retry names a distinct execution, deterministically
func deriveRetryExecutionID(
	planExecutionID api.PlanExecutionID, nodeID api.NodeID,
	parentID api.NodeExecutionID, attempt int,
) api.NodeExecutionID {
	seed := fmt.Sprintf("%s/%s/%s#%d",
		planExecutionID, parentID, nodeID, attempt)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	return api.NodeExecutionID(id.String())
}
