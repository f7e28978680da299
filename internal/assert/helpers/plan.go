package helpers

import "github.com/hemanthmantri/conduit/pkg/api"

// Chain builds a plan whose nodes run sequentially in the given order
func Chain(id api.PlanID, nodes ...*api.Node) *api.Plan {
	plan := &api.Plan{
		ID:          id,
		Nodes:       map[api.NodeID]*api.Node{},
		StartNodeID: nodes[0].ID,
	}
	for i, node := range nodes {
		if i < len(nodes)-1 {
			node.NextID = nodes[i+1].ID
		}
		plan.Nodes[node.ID] = node
	}
	return plan
}

// SyncNode defines a sequential node bound to the given step type
func SyncNode(id api.NodeID, stepType api.StepType) *api.Node {
	return &api.Node{
		ID:          id,
		StepType:    stepType,
		Facilitator: api.FacilitatorSync,
	}
}

// AsyncNode defines an async node bound to the given step type
func AsyncNode(id api.NodeID, stepType api.StepType) *api.Node {
	return &api.Node{
		ID:          id,
		StepType:    stepType,
		Facilitator: api.FacilitatorAsync,
	}
}

// TaskNode defines a facilitated task node bound to the given step type
func TaskNode(id api.NodeID, stepType api.StepType) *api.Node {
	return &api.Node{
		ID:          id,
		StepType:    stepType,
		Facilitator: api.FacilitatorTask,
	}
}

// ContainerNode defines a node that fans out to the given children
func ContainerNode(
	id api.NodeID, stepType api.StepType, children ...api.NodeID,
) *api.Node {
	return &api.Node{
		ID:          id,
		StepType:    stepType,
		Facilitator: api.FacilitatorSync,
		Children:    children,
	}
}
