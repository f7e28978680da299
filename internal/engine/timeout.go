package engine

import (
	"context"
	"log/slog"

	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/log"
)

const sweepTaskKey = "timeout-sweep"

// scheduleSweep arms the next timeout sweep. Each pass reschedules itself,
// so the sweep keeps the configured cadence without a dedicated goroutine
func (e *Engine) scheduleSweep() {
	e.sched.Schedule(
		e.ctx, sweepTaskKey, e.Now().Add(e.config.SweepInterval),
		func() error {
			e.sweepTimeouts(e.ctx)
			e.scheduleSweep()
			return nil
		},
	)
}

// sweepTimeouts expires overdue suspensions by pushing synthesized expiry
// notifications through the same correlation path a genuine response takes.
// Callback ids that already hold a real response keep it; the synthesized
// entries only fill the gaps, so a wait always settles exactly once
func (e *Engine) sweepTimeouts(ctx context.Context) {
	if !e.elector.IsLeader(ctx) {
		return
	}

	overdue, err := e.store.FindByTimeoutBefore(ctx, e.Now())
	if err != nil {
		slog.Error("Timeout sweep query failed", log.Error(err))
		return
	}

	for _, exec := range overdue {
		if err := e.expireSuspension(ctx, exec); err != nil {
			slog.Error("Timeout expiry failed",
				log.NodeExecutionID(exec.ID),
				log.Error(err))
		}
	}
}

func (e *Engine) expireSuspension(
	ctx context.Context, exec *api.NodeExecution,
) error {
	if exec.Suspension == nil || !exec.Status.IsWaiting() {
		return nil
	}

	slog.Info("Suspension deadline elapsed",
		log.NodeExecutionID(exec.ID),
		log.NodeID(exec.NodeID))

	// rebuild the wait if the registration was lost before a crash
	err := e.waits.EnsureWait(
		ctx, resumeKind, string(exec.ID), exec.Suspension.CallbackIDs,
	)
	if err != nil {
		return err
	}

	for _, id := range exec.Suspension.CallbackIDs {
		ev := &api.NotifyEvent{
			CorrelationID: id,
			Expired:       true,
		}
		err := e.publish(
			ctx, api.TopicNotify, string(id), api.EventTypeNotify, ev,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
