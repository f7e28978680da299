package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hemanthmantri/conduit/pkg/api"
)

// Memory is a mutex-guarded in-process ExecutionStore used by tests and
// single-process deployments. Reads return copies so callers hold stable
// snapshots while the tree mutates underneath
type Memory struct {
	plans     map[api.PlanID]*api.Plan
	planExecs map[api.PlanExecutionID]*api.PlanExecution
	nodeExecs map[api.NodeExecutionID]*api.NodeExecution
	mu        sync.RWMutex
}

// NewMemory creates an empty in-memory execution store
func NewMemory() *Memory {
	return &Memory{
		plans:     map[api.PlanID]*api.Plan{},
		planExecs: map[api.PlanExecutionID]*api.PlanExecution{},
		nodeExecs: map[api.NodeExecutionID]*api.NodeExecution{},
	}
}

func (m *Memory) CreatePlan(_ context.Context, plan *api.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; ok {
		return fmt.Errorf("%w: plan %s", ErrAlreadyExists, plan.ID)
	}
	m.plans[plan.ID] = plan
	return nil
}

func (m *Memory) GetPlan(
	_ context.Context, id api.PlanID,
) (*api.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s", ErrNotFound, id)
	}
	return plan, nil
}

func (m *Memory) ResolveNode(
	ctx context.Context, planID api.PlanID, nodeID api.NodeID,
) (*api.Node, error) {
	plan, err := m.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return plan.GetNode(nodeID)
}

func (m *Memory) CreatePlanExecution(
	_ context.Context, exec *api.PlanExecution,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.planExecs[exec.ID]; ok {
		return fmt.Errorf("%w: plan execution %s", ErrAlreadyExists, exec.ID)
	}
	cp := *exec
	m.planExecs[exec.ID] = &cp
	return nil
}

func (m *Memory) GetPlanExecution(
	_ context.Context, id api.PlanExecutionID,
) (*api.PlanExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.planExecs[id]
	if !ok {
		return nil, fmt.Errorf("%w: plan execution %s", ErrNotFound, id)
	}
	cp := *exec
	return &cp, nil
}

func (m *Memory) UpdatePlanExecutionStatus(
	_ context.Context, id api.PlanExecutionID, expected []api.Status,
	next api.Status,
) (*api.PlanExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.planExecs[id]
	if !ok {
		return nil, fmt.Errorf("%w: plan execution %s", ErrNotFound, id)
	}
	if !statusIn(exec.Status, expected) {
		return nil, fmt.Errorf("%w: plan execution %s is %s",
			ErrStatusConflict, id, exec.Status)
	}
	exec.Status = next
	if next.IsTerminal() {
		exec.EndedAt = time.Now()
	}
	cp := *exec
	return &cp, nil
}

func (m *Memory) CreateNodeExecution(
	_ context.Context, exec *api.NodeExecution,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodeExecs[exec.ID]; ok {
		return fmt.Errorf("%w: node execution %s", ErrAlreadyExists, exec.ID)
	}
	cp := *exec
	m.nodeExecs[exec.ID] = &cp

	if exec.PreviousID != "" {
		if prev, ok := m.nodeExecs[exec.PreviousID]; ok {
			prev.NextID = exec.ID
		}
	}
	return nil
}

func (m *Memory) Get(
	_ context.Context, id api.NodeExecutionID,
) (*api.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.nodeExecs[id]
	if !ok {
		return nil, fmt.Errorf("%w: node execution %s", ErrNotFound, id)
	}
	cp := *exec
	return &cp, nil
}

func (m *Memory) FindChildren(
	_ context.Context, planExecutionID api.PlanExecutionID,
	parentID api.NodeExecutionID, _ Fields,
) ([]*api.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var children []*api.NodeExecution
	for _, exec := range m.nodeExecs {
		if exec.Ambiance.PlanExecutionID != planExecutionID {
			continue
		}
		if exec.ParentID != parentID {
			continue
		}
		cp := *exec
		children = append(children, &cp)
	}
	return children, nil
}

func (m *Memory) CompareAndSwapStatus(
	_ context.Context, id api.NodeExecutionID, expected []api.Status,
	next api.Status, patch *Patch,
) (*api.NodeExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.nodeExecs[id]
	if !ok {
		return nil, fmt.Errorf("%w: node execution %s", ErrNotFound, id)
	}
	if !statusIn(exec.Status, expected) {
		return nil, fmt.Errorf("%w: node execution %s is %s, not in %v",
			ErrStatusConflict, id, exec.Status, expected)
	}

	exec.Status = next
	patch.Apply(exec)
	cp := *exec
	return &cp, nil
}

func (m *Memory) FindByTimeoutBefore(
	_ context.Context, ts time.Time,
) ([]*api.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*api.NodeExecution
	for _, exec := range m.nodeExecs {
		if !exec.Status.IsWaiting() || exec.Suspension == nil {
			continue
		}
		if exec.Suspension.Deadline.After(ts) {
			continue
		}
		cp := *exec
		expired = append(expired, &cp)
	}
	return expired, nil
}

func (m *Memory) FindByPlanExecution(
	_ context.Context, planExecutionID api.PlanExecutionID,
	statuses ...api.Status,
) ([]*api.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []*api.NodeExecution
	for _, exec := range m.nodeExecs {
		if exec.Ambiance.PlanExecutionID != planExecutionID {
			continue
		}
		if len(statuses) > 0 && !statusIn(exec.Status, statuses) {
			continue
		}
		cp := *exec
		res = append(res, &cp)
	}
	return res, nil
}

func (m *Memory) DeletePlanExecution(
	_ context.Context, id api.PlanExecutionID,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.planExecs, id)
	for execID, exec := range m.nodeExecs {
		if exec.Ambiance.PlanExecutionID == id {
			delete(m.nodeExecs, execID)
		}
	}
	return nil
}
