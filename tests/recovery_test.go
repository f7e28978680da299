package tests

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hemanthmantri/conduit/internal/assert"
	"github.com/hemanthmantri/conduit/internal/assert/helpers"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// TestSweepRebuildsLostWait simulates a crash that persisted a suspension
// but lost its wait registration; the timeout sweep rebuilds the wait from
// the stored descriptor, so the execution still settles
func TestSweepRebuildsLostWait(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb := api.NewCallbackID()
	waiter := helpers.NewAsyncStep(50, cb)
	env.Start(t, map[api.StepType]api.Executable{"waiter": waiter})

	plan := helpers.Chain("lost-wait", helpers.AsyncNode("a", "waiter"))
	execID := env.Submit(plan, nil)

	env.WaitForNodeStatus(execID, "a", api.StatusAsyncWaiting)

	// drop the wait registration out from under the suspension
	instances, err := env.Waits.FindByCorrelation(env.Ctx, cb)
	as.Require.NoError(err)
	as.Require.Len(instances, 1)
	as.Require.NoError(env.Waits.DeleteInstance(env.Ctx, instances[0]))

	env.Clock.Advance(80 * time.Millisecond)

	expired := env.WaitForNodeStatus(execID, "a", api.StatusExpired)
	as.NodeFailed(expired, api.StatusExpired, api.FailureTimeout)
	env.WaitForPlanStatus(execID, api.StatusExpired)
}

// TestRedeliveredStartIsIdempotent verifies that publishing the same start
// event twice converges on a single node execution instead of spawning a
// duplicate
func TestRedeliveredStartIsIdempotent(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	step := helpers.NewEchoStep(api.Args{"ok": true})
	env.Start(t, map[api.StepType]api.Executable{"echo": step})

	plan := helpers.Chain("redelivered", helpers.SyncNode("a", "echo"))
	execID := env.Submit(plan, nil)
	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	settled := env.NodeExecution(execID, "a")

	// replay the plan-created event under the same execution id; every
	// derived node execution id matches, so nothing new is spawned
	replay, err := json.Marshal(&api.PlanCreatedEvent{
		Plan:            plan,
		PlanExecutionID: execID,
	})
	as.Require.NoError(err)
	as.Require.NoError(env.Broker.Publish(
		env.Ctx, api.TopicPlanEvents, string(execID),
		api.EventTypePlanCreated, replay,
	))
	time.Sleep(50 * time.Millisecond)

	execs, err := env.Store.FindByPlanExecution(env.Ctx, execID)
	as.Require.NoError(err)
	as.Len(execs, 1)
	as.Equal(settled.ID, execs[0].ID)
	as.NodeStatus(execs[0], api.StatusSucceeded)
}
