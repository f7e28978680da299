package tests

import (
	"testing"
	"time"

	"github.com/hemanthmantri/conduit/internal/assert"
	"github.com/hemanthmantri/conduit/internal/assert/helpers"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// TestAsyncSuspendAndResume suspends a node on two callbacks, notifies
// both, and verifies the step resumes once with both payloads before the
// chain advances
func TestAsyncSuspendAndResume(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb1, cb2 := api.NewCallbackID(), api.NewCallbackID()
	waiter := helpers.NewAsyncStep(60_000, cb1, cb2)
	waiter.Outputs = api.Args{"merged": true}
	after := helpers.NewEchoStep(api.Args{})
	env.Start(t, map[api.StepType]api.Executable{
		"waiter": waiter,
		"after":  after,
	})

	plan := helpers.Chain("async",
		helpers.AsyncNode("a", "waiter"),
		helpers.SyncNode("b", "after"),
	)
	execID := env.Submit(plan, nil)

	suspended := env.WaitForNodeStatus(execID, "a", api.StatusAsyncWaiting)
	as.Suspended(suspended, cb1, cb2)

	env.Notify(cb1, []byte(`{"part":1}`))
	env.Notify(cb2, []byte(`{"part":2}`))

	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	resumed := env.NodeExecution(execID, "a")
	as.NodeStatus(resumed, api.StatusSucceeded)
	as.Nil(resumed.Suspension)
	as.Equal(api.Args{"merged": true}, resumed.Outputs)
	as.Equal(1, waiter.ResumeCount())
	as.Equal([]byte(`{"part":1}`), waiter.Responses()[cb1])
	as.Equal([]byte(`{"part":2}`), waiter.Responses()[cb2])
	as.Equal(api.Args{"merged": true}, after.Inputs(0))
}

// TestTaskFacilitatorWaitsAsTask verifies a task-facilitated node suspends
// in the task-waiting status rather than async-waiting
func TestTaskFacilitatorWaitsAsTask(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb := api.NewCallbackID()
	waiter := helpers.NewAsyncStep(60_000, cb)
	env.Start(t, map[api.StepType]api.Executable{"waiter": waiter})

	plan := helpers.Chain("task", helpers.TaskNode("a", "waiter"))
	execID := env.Submit(plan, nil)

	env.WaitForNodeStatus(execID, "a", api.StatusTaskWaiting)

	env.Notify(cb, []byte(`{}`))
	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	as.Equal(1, waiter.ResumeCount())
}

// TestDuplicateNotifyResumesOnce verifies a redelivered notification for an
// already-settled callback id neither resumes the step again nor disturbs
// the terminal state
func TestDuplicateNotifyResumesOnce(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb := api.NewCallbackID()
	waiter := helpers.NewAsyncStep(60_000, cb)
	env.Start(t, map[api.StepType]api.Executable{"waiter": waiter})

	plan := helpers.Chain("dup", helpers.AsyncNode("a", "waiter"))
	execID := env.Submit(plan, nil)

	env.WaitForNodeStatus(execID, "a", api.StatusAsyncWaiting)
	env.Notify(cb, []byte(`{"n":1}`))
	env.WaitForPlanStatus(execID, api.StatusSucceeded)

	env.Notify(cb, []byte(`{"n":2}`))
	time.Sleep(50 * time.Millisecond)

	as.NodeStatus(env.NodeExecution(execID, "a"), api.StatusSucceeded)
	as.Equal(1, waiter.ResumeCount())
	as.Equal([]byte(`{"n":1}`), waiter.Responses()[cb])
}

// TestFirstResponsePerCallbackWins verifies that two responses for the
// same callback id resolve to the first one recorded
func TestFirstResponsePerCallbackWins(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb1, cb2 := api.NewCallbackID(), api.NewCallbackID()
	waiter := helpers.NewAsyncStep(60_000, cb1, cb2)
	env.Start(t, map[api.StepType]api.Executable{"waiter": waiter})

	plan := helpers.Chain("first-wins", helpers.AsyncNode("a", "waiter"))
	execID := env.Submit(plan, nil)

	env.WaitForNodeStatus(execID, "a", api.StatusAsyncWaiting)
	env.Notify(cb1, []byte(`first`))
	env.Notify(cb1, []byte(`second`))
	env.Notify(cb2, []byte(`other`))

	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	as.Equal([]byte(`first`), waiter.Responses()[cb1])
}

// TestErroredCallbackFailsNode verifies an error response settles the node
// as a platform failure and runs the step's failure hook
func TestErroredCallbackFailsNode(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb := api.NewCallbackID()
	waiter := helpers.NewFailureAwareStep(60_000, cb)
	env.Start(t, map[api.StepType]api.Executable{"waiter": waiter})

	plan := helpers.Chain("errored", helpers.AsyncNode("a", "waiter"))
	execID := env.Submit(plan, nil)

	env.WaitForNodeStatus(execID, "a", api.StatusAsyncWaiting)
	env.NotifyError(cb, "downstream unavailable")

	env.WaitForPlanStatus(execID, api.StatusFailed)
	exec := env.NodeExecution(execID, "a")
	as.NodeFailed(exec, api.StatusFailed, api.FailurePlatform)
	as.Contains(exec.Failure.Message, "downstream unavailable")
	as.Equal(0, waiter.ResumeCount())

	as.Require.Len(waiter.Failures(), 1)
	as.Equal(api.FailurePlatform, waiter.Failures()[0].Type)
}

// TestResumeErrorFailsNode verifies an error returned from Resume settles
// the node as an application failure
func TestResumeErrorFailsNode(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	cb := api.NewCallbackID()
	waiter := helpers.NewAsyncStep(60_000, cb)
	waiter.ResumeErr = helpers.ErrUnexpectedResume
	env.Start(t, map[api.StepType]api.Executable{"waiter": waiter})

	plan := helpers.Chain("resume-err", helpers.AsyncNode("a", "waiter"))
	execID := env.Submit(plan, nil)

	env.WaitForNodeStatus(execID, "a", api.StatusAsyncWaiting)
	env.Notify(cb, []byte(`{}`))

	env.WaitForPlanStatus(execID, api.StatusFailed)
	as.NodeFailed(
		env.NodeExecution(execID, "a"),
		api.StatusFailed, api.FailureApplication,
	)
}

// TestBrokenResponseFailsInternally verifies an executable response with
// neither a final result nor a suspension is treated as a protocol
// violation
func TestBrokenResponseFailsInternally(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	env.Start(t, map[api.StepType]api.Executable{
		"broken": &helpers.BrokenStep{},
	})

	plan := helpers.Chain("broken", helpers.SyncNode("a", "broken"))
	execID := env.Submit(plan, nil)

	env.WaitForPlanStatus(execID, api.StatusFailed)
	exec := env.NodeExecution(execID, "a")
	as.NodeFailed(exec, api.StatusFailed, api.FailureInternal)
	as.Contains(exec.Failure.Message, api.ErrResponseEmpty.Error())
}
