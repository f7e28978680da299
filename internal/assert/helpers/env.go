// Package helpers provides the shared test environment for engine tests:
// an in-process engine wired to memory-backed collaborators, a manually
// advanced clock, and canned step implementations
package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/internal/assert"
	"github.com/hemanthmantri/conduit/internal/config"
	"github.com/hemanthmantri/conduit/internal/engine"
	"github.com/hemanthmantri/conduit/internal/eventlog"
	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/internal/waitnotify"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// TestEngineEnv bundles a running engine with direct handles on its
// memory-backed collaborators so tests can observe and manipulate state
type TestEngineEnv struct {
	Engine *engine.Engine
	Store  *store.Memory
	Broker *eventlog.MemoryBroker
	Waits  *waitnotify.MemoryStore
	Clock  *FakeClock
	Config *config.Config
	Ctx    context.Context
	as     *assert.Wrapper
}

const waitTimeout = 3 * time.Second

// NewTestEngine starts an engine over memory-backed collaborators with a
// fake clock and a fast timeout sweep. The engine is stopped on test
// cleanup
func NewTestEngine(t *testing.T) *TestEngineEnv {
	cfg := config.NewDefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second

	env := &TestEngineEnv{
		Store:  store.NewMemory(),
		Broker: eventlog.NewMemoryBroker(),
		Waits:  waitnotify.NewMemoryStore(),
		Clock:  NewFakeClock(time.Now()),
		Config: cfg,
		Ctx:    context.Background(),
		as:     assert.New(t),
	}
	env.Engine = engine.New(env.Store, env.Broker, env.Waits, cfg)
	env.Engine.SetClock(env.Clock.Now)
	return env
}

// Start registers the given steps and starts the engine
func (env *TestEngineEnv) Start(
	t *testing.T, steps map[api.StepType]api.Executable,
) {
	for stepType, step := range steps {
		require.NoError(t, env.Engine.RegisterStep(stepType, step))
	}
	require.NoError(t, env.Engine.Start())
	t.Cleanup(func() {
		_ = env.Engine.Stop()
	})
}

// Submit validates and submits a plan for execution
func (env *TestEngineEnv) Submit(
	plan *api.Plan, scope map[string]string,
) api.PlanExecutionID {
	id, err := env.Engine.SubmitPlan(env.Ctx, plan, scope)
	env.as.Require.NoError(err)
	return id
}

// Notify publishes a successful correlated response
func (env *TestEngineEnv) Notify(id api.CallbackID, payload []byte) {
	env.as.Require.NoError(env.Engine.Notify(env.Ctx, id, payload, ""))
}

// NotifyError publishes an errored correlated response
func (env *TestEngineEnv) NotifyError(id api.CallbackID, errMsg string) {
	env.as.Require.NoError(env.Engine.Notify(env.Ctx, id, nil, errMsg))
}

// NodeExecution returns the node execution for nodeID within the plan
// execution, or nil if the node was never started
func (env *TestEngineEnv) NodeExecution(
	planExecID api.PlanExecutionID, nodeID api.NodeID,
) *api.NodeExecution {
	execs, err := env.Store.FindByPlanExecution(env.Ctx, planExecID)
	env.as.Require.NoError(err)
	for _, exec := range execs {
		if exec.NodeID == nodeID {
			return exec
		}
	}
	return nil
}

// WaitForNodeStatus blocks until the node's execution reaches the expected
// status and returns it
func (env *TestEngineEnv) WaitForNodeStatus(
	planExecID api.PlanExecutionID, nodeID api.NodeID, expected api.Status,
) *api.NodeExecution {
	env.as.Helper()
	var found *api.NodeExecution
	env.as.Eventually(func() bool {
		exec := env.NodeExecution(planExecID, nodeID)
		if exec == nil || exec.Status != expected {
			return false
		}
		found = exec
		return true
	}, waitTimeout, "node %s never reached %s", nodeID, expected)
	return found
}

// WaitForPlanStatus blocks until the plan execution reaches the expected
// status and returns it
func (env *TestEngineEnv) WaitForPlanStatus(
	planExecID api.PlanExecutionID, expected api.Status,
) *api.PlanExecution {
	env.as.Helper()
	var found *api.PlanExecution
	env.as.Eventually(func() bool {
		exec, err := env.Store.GetPlanExecution(env.Ctx, planExecID)
		if err != nil || exec.Status != expected {
			return false
		}
		found = exec
		return true
	}, waitTimeout, "plan execution %s never reached %s", planExecID, expected)
	return found
}

// NeverStarts asserts that no execution for nodeID appears within the
// observation window
func (env *TestEngineEnv) NeverStarts(
	planExecID api.PlanExecutionID, nodeID api.NodeID, window time.Duration,
) {
	env.as.Helper()
	env.as.Never(func() bool {
		return env.NodeExecution(planExecID, nodeID) != nil
	}, window, "node %s started", nodeID)
}
