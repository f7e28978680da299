package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/internal/config"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// Wrapper wraps testify assertions with Conduit-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *require.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 5 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus Conduit-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// NodeStatus asserts the status of a node execution
func (w *Wrapper) NodeStatus(exec *api.NodeExecution, expected api.Status) {
	w.Helper()
	w.Require.NotNil(exec)
	w.Equal(expected, exec.Status)
}

// PlanStatus asserts the status of a plan execution
func (w *Wrapper) PlanStatus(exec *api.PlanExecution, expected api.Status) {
	w.Helper()
	w.Require.NotNil(exec)
	w.Equal(expected, exec.Status)
}

// NodeFailed asserts that a node execution failed terminally with the given
// failure classification
func (w *Wrapper) NodeFailed(
	exec *api.NodeExecution, status api.Status, failureType api.FailureType,
) {
	w.Helper()
	w.Require.NotNil(exec)
	w.Equal(status, exec.Status)
	w.Require.NotNil(exec.Failure, "terminal failure should carry info")
	w.Equal(failureType, exec.Failure.Type)
}

// Suspended asserts that a node execution is waiting with a persisted
// suspension covering the given callback ids
func (w *Wrapper) Suspended(exec *api.NodeExecution, ids ...api.CallbackID) {
	w.Helper()
	w.Require.NotNil(exec)
	w.True(exec.Status.IsWaiting(),
		"expected waiting status, got %s", exec.Status)
	w.Require.NotNil(exec.Suspension)
	w.ElementsMatch(ids, exec.Suspension.CallbackIDs)
}

// PlanValid asserts that a plan passes structural validation
func (w *Wrapper) PlanValid(p *api.Plan) {
	w.Helper()
	w.NoError(p.Validate())
	w.NotEmpty(p.ID)
	w.Contains(p.Nodes, p.StartNodeID)
}

// PlanInvalid asserts that a plan fails validation and returns the error
func (w *Wrapper) PlanInvalid(p *api.Plan, contains string) error {
	w.Helper()
	err := p.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
	return err
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.DefaultStepTimeout > 0)
	w.True(cfg.SweepInterval > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// Never runs a condition repeatedly for the duration and fails as soon as
// it becomes true
func (w *Wrapper) Never(
	condition func() bool, duration time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if condition() {
			w.Fail(msg, args...)
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
}
