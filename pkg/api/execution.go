package api

import (
	"slices"
	"time"
)

type (
	// Status represents the current state of a node execution. Only the
	// engine transitions it; terminal statuses are absorbing
	Status string

	// NodeExecution is the runtime instance of a Node for one execution
	// attempt. Parent/child and sibling relations are expressed as id
	// references, never embedded pointers
	NodeExecution struct {
		StartTS    time.Time       `json:"start_ts,omitempty"`
		EndTS      time.Time       `json:"end_ts,omitempty"`
		Outputs    Args            `json:"outputs,omitempty"`
		Failure    *FailureInfo    `json:"failure,omitempty"`
		Suspension *Suspension     `json:"suspension,omitempty"`
		Ambiance   Ambiance        `json:"ambiance"`
		ID         NodeExecutionID `json:"id"`
		NodeID     NodeID          `json:"node_id"`
		PlanID     PlanID          `json:"plan_id"`
		Status     Status          `json:"status"`
		ParentID   NodeExecutionID `json:"parent_id,omitempty"`
		PreviousID NodeExecutionID `json:"previous_id,omitempty"`
		NextID     NodeExecutionID `json:"next_id,omitempty"`
		RetryIndex int             `json:"retry_index,omitempty"`
		RetryIDs   []NodeExecutionID `json:"retry_ids,omitempty"`
	}

	// Suspension is the descriptor persisted when a step suspends: the
	// callback ids still outstanding and the deadline by which they must all
	// resolve
	Suspension struct {
		RegisteredAt  time.Time    `json:"registered_at"`
		Deadline      time.Time    `json:"deadline"`
		CallbackIDs   []CallbackID `json:"callback_ids"`
		TimeoutMillis int64        `json:"timeout_millis"`
	}

	// PlanExecution tracks one running instance of a plan
	PlanExecution struct {
		CreatedAt time.Time         `json:"created_at"`
		EndedAt   time.Time         `json:"ended_at,omitempty"`
		Scope     map[string]string `json:"scope,omitempty"`
		ID        PlanExecutionID   `json:"id"`
		PlanID    PlanID            `json:"plan_id"`
		Status    Status            `json:"status"`
	}
)

const (
	StatusQueued       Status = "QUEUED"
	StatusRunning      Status = "RUNNING"
	StatusAsyncWaiting Status = "ASYNC_WAITING"
	StatusTaskWaiting  Status = "TASK_WAITING"
	StatusSucceeded    Status = "SUCCEEDED"
	StatusFailed       Status = "FAILED"
	StatusAborted      Status = "ABORTED"
	StatusExpired      Status = "EXPIRED"
	StatusSkipped      Status = "SKIPPED"
)

// IsTerminal reports whether the status is absorbing
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusExpired,
		StatusSkipped:
		return true
	}
	return false
}

// IsWaiting reports whether the status marks a suspended node execution
func (s Status) IsWaiting() bool {
	return s == StatusAsyncWaiting || s == StatusTaskWaiting
}

// IsPositive reports whether the status counts as success for rollup
func (s Status) IsPositive() bool {
	return s == StatusSucceeded || s == StatusSkipped
}

// SetStatus returns a copy of the node execution with the status updated
func (ne *NodeExecution) SetStatus(s Status) *NodeExecution {
	res := *ne
	res.Status = s
	return &res
}

// SetSuspension returns a copy with the suspension descriptor replaced
func (ne *NodeExecution) SetSuspension(s *Suspension) *NodeExecution {
	res := *ne
	res.Suspension = s
	return &res
}

// SetFailure returns a copy with the failure info set
func (ne *NodeExecution) SetFailure(f *FailureInfo) *NodeExecution {
	res := *ne
	res.Failure = f
	return &res
}

// SetEndTS returns a copy with the end timestamp set
func (ne *NodeExecution) SetEndTS(t time.Time) *NodeExecution {
	res := *ne
	res.EndTS = t
	return &res
}

// Pending returns the callback ids of the suspension not yet satisfied by
// the given set of responded ids
func (s *Suspension) Pending(responded []CallbackID) []CallbackID {
	var pending []CallbackID
	for _, id := range s.CallbackIDs {
		if !slices.Contains(responded, id) {
			pending = append(pending, id)
		}
	}
	return pending
}
