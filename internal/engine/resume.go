package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/internal/waitnotify"
	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/log"
)

// resumeHandler re-enters a suspended node execution once every callback
// has reported. The wait layer guarantees one delivery per completed wait;
// the status swap below makes a duplicate delivery a no-op anyway
type resumeHandler struct {
	engine *Engine
}

const resumeKind = "node-resume"

// suspendNode persists the suspension descriptor and registers the all-of
// wait. The suspension is written first: if the process dies before the
// wait registers, the timeout sweep rebuilds it from the stored descriptor
func (e *Engine) suspendNode(
	ctx context.Context, exec *api.NodeExecution, node *api.Node,
	async *api.AsyncResponse,
) error {
	waiting := api.StatusAsyncWaiting
	if node.Facilitator == api.FacilitatorTask {
		waiting = api.StatusTaskWaiting
	}

	// a step that names no timeout gets the configured default
	timeoutMillis := async.TimeoutMillis
	if timeoutMillis <= 0 {
		timeoutMillis = e.config.DefaultStepTimeout
	}

	now := e.Now()
	timeout := time.Duration(timeoutMillis) * time.Millisecond
	suspension := &api.Suspension{
		RegisteredAt:  now,
		Deadline:      now.Add(timeout),
		CallbackIDs:   async.CallbackIDs,
		TimeoutMillis: timeoutMillis,
	}
	suspended, err := e.swapStatus(
		ctx, exec.ID, []api.Status{api.StatusRunning}, waiting,
		&store.Patch{Suspension: suspension},
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Node execution suspended",
		log.NodeExecutionID(suspended.ID),
		log.Status(suspended.Status),
		slog.Int("callbacks", len(async.CallbackIDs)))

	return e.waits.WaitForAll(
		ctx, resumeKind, string(suspended.ID), async.CallbackIDs,
	)
}

func (h *resumeHandler) Kind() string {
	return resumeKind
}

func (h *resumeHandler) Notify(
	ctx context.Context, ref string,
	responses map[api.CallbackID]*waitnotify.Response,
) error {
	e := h.engine
	exec, err := e.store.Get(ctx, api.NodeExecutionID(ref))
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return nil
	}
	if !exec.Status.IsWaiting() {
		// a racing worker holds the execution between states; the wait
		// layer releases the claim so a later notification retries
		return fmt.Errorf("%w: %s is %s", ErrNotWaiting, exec.ID, exec.Status)
	}

	if anyExpired(responses) {
		return e.expireNode(ctx, exec, responses)
	}
	return e.resumeNode(ctx, exec, responses)
}

// resumeNode re-enters the step with the collected responses. Winning the
// waiting-to-running swap is what makes resumption happen at most once;
// every other contender sees a conflict and walks away
func (e *Engine) resumeNode(
	ctx context.Context, exec *api.NodeExecution,
	responses map[api.CallbackID]*waitnotify.Response,
) error {
	running, err := e.swapStatus(
		ctx, exec.ID,
		[]api.Status{api.StatusAsyncWaiting, api.StatusTaskWaiting},
		api.StatusRunning, &store.Patch{ClearSuspension: true},
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Node execution resuming",
		log.NodeExecutionID(running.ID),
		log.NodeID(running.NodeID))

	node, err := e.resolveNode(ctx, running.PlanID, running.NodeID)
	if err != nil {
		return err
	}
	step, err := e.registry.Resolve(node.StepType)
	if err != nil {
		return e.failNode(ctx, running, api.NewFailure(
			api.FailureInternal, err.Error(),
		))
	}

	if failed := collectErrors(responses); failed != nil {
		if aware, ok := step.(api.FailureAware); ok {
			err := aware.OnFailure(
				ctx, running.Ambiance, node.Params, exec.Suspension, failed,
			)
			if err != nil {
				slog.Warn("Failure hook returned error",
					log.NodeExecutionID(running.ID),
					log.Error(err))
			}
		}
		return e.failNode(ctx, running, failed)
	}

	payloads := make(map[api.CallbackID][]byte, len(responses))
	for id, resp := range responses {
		payloads[id] = resp.Payload
	}

	resp, err := step.Resume(ctx, running.Ambiance, node.Params, payloads)
	if err != nil {
		return e.failNode(ctx, running, api.NewFailure(
			api.FailureApplication, err.Error(),
		))
	}
	if err := resp.Validate(); err != nil {
		return e.failNode(ctx, running, api.NewFailure(
			api.FailureInternal, err.Error(),
		))
	}
	return e.concludeNode(ctx, running, resp)
}

// expireNode settles a suspension whose deadline elapsed. The expiry
// claims the execution the same way a resume does, so a racing genuine
// completion wins the swap and the expiry hook never runs for it. Steps
// may override the default timeout failure through the hook
func (e *Engine) expireNode(
	ctx context.Context, exec *api.NodeExecution,
	responses map[api.CallbackID]*waitnotify.Response,
) error {
	claimed, err := e.swapStatus(
		ctx, exec.ID,
		[]api.Status{api.StatusAsyncWaiting, api.StatusTaskWaiting},
		api.StatusRunning, &store.Patch{},
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	node, err := e.resolveNode(ctx, claimed.PlanID, claimed.NodeID)
	if err != nil {
		return err
	}

	var override *api.StepResponse
	if step, resolveErr := e.registry.Resolve(node.StepType); resolveErr == nil {
		if expirable, ok := step.(api.Expirable); ok {
			override = expirable.OnExpire(
				ctx, claimed.Ambiance, node.Params, claimed.Suspension,
			)
		}
	}

	outcome := api.StatusExpired
	patch := &store.Patch{
		EndTS:           e.Now(),
		ClearSuspension: true,
	}
	if override != nil && override.Validate() == nil {
		outcome = override.Status
		patch.Outputs = override.Outputs
		patch.Failure = override.Failure
	} else {
		patch.Failure = api.NewFailure(api.FailureTimeout, fmt.Sprintf(
			"suspension elapsed after %dms with %d of %d callbacks resolved",
			claimed.Suspension.TimeoutMillis,
			countResolved(responses), len(responses),
		))
	}

	expired, err := e.swapStatus(
		ctx, exec.ID, []api.Status{api.StatusRunning}, outcome, patch,
	)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Warn("Node execution expired",
		log.NodeExecutionID(expired.ID),
		log.NodeID(expired.NodeID),
		log.Status(expired.Status))

	return e.advance(ctx, expired, node)
}

func anyExpired(responses map[api.CallbackID]*waitnotify.Response) bool {
	for _, resp := range responses {
		if resp.Expired {
			return true
		}
	}
	return false
}

func countResolved(responses map[api.CallbackID]*waitnotify.Response) int {
	resolved := 0
	for _, resp := range responses {
		if !resp.Expired {
			resolved++
		}
	}
	return resolved
}

// collectErrors reduces errored responses to a platform failure
func collectErrors(
	responses map[api.CallbackID]*waitnotify.Response,
) *api.FailureInfo {
	for id, resp := range responses {
		if resp.Error != "" {
			return api.NewFailure(api.FailurePlatform, fmt.Sprintf(
				"callback %s reported: %s", id, resp.Error,
			))
		}
	}
	return nil
}
