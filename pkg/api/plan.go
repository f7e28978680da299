package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// Plan is the immutable compiled graph describing an execution. It is
	// created once at plan-creation time and read-only thereafter
	Plan struct {
		Nodes       map[NodeID]*Node `json:"nodes"`
		ID          PlanID           `json:"id"`
		StartNodeID NodeID           `json:"start_node_id"`
	}

	// Node is a single step/stage/group definition within a plan. Params is
	// an opaque payload interpreted only by the step implementation
	Node struct {
		Params      json.RawMessage `json:"params,omitempty"`
		ID          NodeID          `json:"id"`
		Name        string          `json:"name,omitempty"`
		StepType    StepType        `json:"step_type"`
		Facilitator FacilitatorType `json:"facilitator"`
		SkipWhen    string          `json:"skip_when,omitempty"`
		NextID      NodeID          `json:"next_id,omitempty"`
		Children    []NodeID        `json:"children,omitempty"`
		Group       string          `json:"group,omitempty"`
	}

	// FacilitatorType is the execution strategy governing how a node runs
	FacilitatorType string
)

const (
	FacilitatorSync       FacilitatorType = "sync"
	FacilitatorAsync      FacilitatorType = "async"
	FacilitatorAsyncChain FacilitatorType = "async_chain"
	FacilitatorTask       FacilitatorType = "task"
)

var (
	ErrPlanIDEmpty         = errors.New("plan ID empty")
	ErrPlanNoNodes         = errors.New("plan has no nodes")
	ErrPlanNoStartNode     = errors.New("plan start node not in graph")
	ErrNodeIDEmpty         = errors.New("node ID empty")
	ErrNodeStepTypeEmpty   = errors.New("node step type empty")
	ErrInvalidFacilitator  = errors.New("invalid facilitator type")
	ErrDanglingNextNode    = errors.New("next node not in graph")
	ErrDanglingChildNode   = errors.New("child node not in graph")
	ErrNodeNotFound        = errors.New("node not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPlanExists          = errors.New("plan already exists")
)

var validFacilitators = map[FacilitatorType]struct{}{
	FacilitatorSync:       {},
	FacilitatorAsync:      {},
	FacilitatorAsyncChain: {},
	FacilitatorTask:       {},
}

// GetNode resolves a node within the plan by its stable identifier
func (p *Plan) GetNode(id NodeID) (*Node, error) {
	node, ok := p.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// Validate checks the structural integrity of the plan graph
func (p *Plan) Validate() error {
	if p.ID == "" {
		return ErrPlanIDEmpty
	}
	if len(p.Nodes) == 0 {
		return ErrPlanNoNodes
	}
	if _, ok := p.Nodes[p.StartNodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrPlanNoStartNode, p.StartNodeID)
	}

	for id, node := range p.Nodes {
		if id == "" || node.ID == "" {
			return ErrNodeIDEmpty
		}
		if err := node.Validate(); err != nil {
			return err
		}
		if node.NextID != "" {
			if _, ok := p.Nodes[node.NextID]; !ok {
				return fmt.Errorf("%w: %s -> %s",
					ErrDanglingNextNode, id, node.NextID)
			}
		}
		for _, child := range node.Children {
			if _, ok := p.Nodes[child]; !ok {
				return fmt.Errorf("%w: %s -> %s",
					ErrDanglingChildNode, id, child)
			}
		}
	}
	return nil
}

// Validate checks an individual node definition
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrNodeIDEmpty
	}
	if n.StepType == "" {
		return fmt.Errorf("%w: %s", ErrNodeStepTypeEmpty, n.ID)
	}
	if _, ok := validFacilitators[n.Facilitator]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidFacilitator, n.Facilitator)
	}
	return nil
}
