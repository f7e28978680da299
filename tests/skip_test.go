package tests

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hemanthmantri/conduit/internal/assert"
	"github.com/hemanthmantri/conduit/internal/assert/helpers"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// TestSkipConditionOnParams verifies a node whose skip condition matches
// its static params is skipped and the chain still advances
func TestSkipConditionOnParams(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	skipped := helpers.NewEchoStep(api.Args{})
	after := helpers.NewEchoStep(api.Args{})
	env.Start(t, map[api.StepType]api.Executable{
		"skipped": skipped,
		"after":   after,
	})

	node := helpers.SyncNode("a", "skipped")
	node.Params = json.RawMessage(`{"skip": true}`)
	node.SkipWhen = "params.skip"

	plan := helpers.Chain("skip-params", node, helpers.SyncNode("b", "after"))
	execID := env.Submit(plan, nil)

	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	as.NodeStatus(env.NodeExecution(execID, "a"), api.StatusSkipped)
	as.NodeStatus(env.NodeExecution(execID, "b"), api.StatusSucceeded)
	as.Equal(0, skipped.StartCount())
	as.Equal(1, after.StartCount())
}

// TestSkipConditionOnScope verifies the execution scope participates in
// skip condition evaluation
func TestSkipConditionOnScope(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	step := helpers.NewEchoStep(api.Args{})
	env.Start(t, map[api.StepType]api.Executable{"echo": step})

	node := helpers.SyncNode("a", "echo")
	node.SkipWhen = "scope.dry_run"

	plan := helpers.Chain("skip-scope", node)
	execID := env.Submit(plan, map[string]string{"dry_run": "true"})

	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	as.NodeStatus(env.NodeExecution(execID, "a"), api.StatusSkipped)
	as.Equal(0, step.StartCount())
}

// TestSkipConditionFalseRuns verifies a non-matching skip condition leaves
// the node running normally
func TestSkipConditionFalseRuns(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	step := helpers.NewEchoStep(api.Args{})
	env.Start(t, map[api.StepType]api.Executable{"echo": step})

	node := helpers.SyncNode("a", "echo")
	node.Params = json.RawMessage(`{"skip": false}`)
	node.SkipWhen = "params.skip"

	plan := helpers.Chain("no-skip", node)
	execID := env.Submit(plan, nil)

	env.WaitForPlanStatus(execID, api.StatusSucceeded)
	as.NodeStatus(env.NodeExecution(execID, "a"), api.StatusSucceeded)
	as.Equal(1, step.StartCount())
}

// TestUnmatchedSkipConditionRuns verifies a condition that resolves to
// nothing, including a malformed path, is falsy rather than fatal
func TestUnmatchedSkipConditionRuns(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngine(t)

	step := helpers.NewEchoStep(api.Args{})
	env.Start(t, map[api.StepType]api.Executable{"echo": step})

	for i, skipWhen := range []string{"params.missing", "params.["} {
		node := helpers.SyncNode("a", "echo")
		node.Params = json.RawMessage(`{"skip": true}`)
		node.SkipWhen = skipWhen

		plan := helpers.Chain(api.PlanID(fmt.Sprintf("no-match-%d", i)), node)
		execID := env.Submit(plan, nil)

		env.WaitForPlanStatus(execID, api.StatusSucceeded)
		as.NodeStatus(env.NodeExecution(execID, "a"), api.StatusSucceeded)
	}
	as.Equal(2, step.StartCount())
}
