// Package store defines the persistence collaborator for the execution
// tree. The engine never assumes a particular query language, only the
// operations declared here; the single-writer-per-node-execution discipline
// is enforced through compare-and-swap status writes
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// Fields is a projection hint naming the node execution fields a reader
	// needs. Implementations may ignore it and return full documents
	Fields []string

	// Patch carries the optional field updates applied atomically with a
	// status transition
	Patch struct {
		StartTS         time.Time
		EndTS           time.Time
		Failure         *api.FailureInfo
		Outputs         api.Args
		Suspension      *api.Suspension
		ClearSuspension bool
	}

	// ExecutionStore persists plans, plan executions, and node executions.
	// Readers may observe stale-but-consistent snapshots; all status writes
	// go through CompareAndSwapStatus
	ExecutionStore interface {
		// CreatePlan persists a write-once plan
		CreatePlan(ctx context.Context, plan *api.Plan) error

		// GetPlan retrieves a plan by id
		GetPlan(ctx context.Context, id api.PlanID) (*api.Plan, error)

		// ResolveNode looks up a node within a stored plan
		ResolveNode(
			ctx context.Context, planID api.PlanID, nodeID api.NodeID,
		) (*api.Node, error)

		// CreatePlanExecution records a new running instance of a plan
		CreatePlanExecution(
			ctx context.Context, exec *api.PlanExecution,
		) error

		// GetPlanExecution retrieves a plan execution by id
		GetPlanExecution(
			ctx context.Context, id api.PlanExecutionID,
		) (*api.PlanExecution, error)

		// UpdatePlanExecutionStatus transitions a plan execution, guarded
		// by the expected current statuses
		UpdatePlanExecutionStatus(
			ctx context.Context, id api.PlanExecutionID,
			expected []api.Status, next api.Status,
		) (*api.PlanExecution, error)

		// CreateNodeExecution persists a new node execution. Creating an id
		// that already exists returns ErrAlreadyExists so redelivered start
		// events stay no-ops
		CreateNodeExecution(
			ctx context.Context, exec *api.NodeExecution,
		) error

		// Get retrieves a node execution by id
		Get(
			ctx context.Context, id api.NodeExecutionID,
		) (*api.NodeExecution, error)

		// FindChildren lists the node executions whose parent is parentID
		// within one plan execution. An empty parentID lists roots
		FindChildren(
			ctx context.Context, planExecutionID api.PlanExecutionID,
			parentID api.NodeExecutionID, fields Fields,
		) ([]*api.NodeExecution, error)

		// CompareAndSwapStatus transitions a node execution to next iff its
		// current status is one of expected, applying the patch in the same
		// write. A losing racer receives ErrStatusConflict and must treat
		// it as a no-op
		CompareAndSwapStatus(
			ctx context.Context, id api.NodeExecutionID,
			expected []api.Status, next api.Status, patch *Patch,
		) (*api.NodeExecution, error)

		// FindByTimeoutBefore lists suspended node executions whose
		// suspension deadline elapsed before ts
		FindByTimeoutBefore(
			ctx context.Context, ts time.Time,
		) ([]*api.NodeExecution, error)

		// FindByPlanExecution lists node executions of one plan execution,
		// optionally filtered to the given statuses
		FindByPlanExecution(
			ctx context.Context, planExecutionID api.PlanExecutionID,
			statuses ...api.Status,
		) ([]*api.NodeExecution, error)

		// DeletePlanExecution removes a terminal plan execution and its
		// node executions, typically after archival
		DeletePlanExecution(
			ctx context.Context, id api.PlanExecutionID,
		) error
	}
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrStatusConflict = errors.New("status conflict")
)

// Apply copies the patch fields onto the node execution in place
func (p *Patch) Apply(exec *api.NodeExecution) {
	if p == nil {
		return
	}
	if !p.StartTS.IsZero() {
		exec.StartTS = p.StartTS
	}
	if !p.EndTS.IsZero() {
		exec.EndTS = p.EndTS
	}
	if p.Failure != nil {
		exec.Failure = p.Failure
	}
	if p.Outputs != nil {
		exec.Outputs = p.Outputs
	}
	if p.Suspension != nil {
		exec.Suspension = p.Suspension
	}
	if p.ClearSuspension {
		exec.Suspension = nil
	}
}

func statusIn(status api.Status, expected []api.Status) bool {
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}
