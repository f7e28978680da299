package api

import "github.com/google/uuid"

type (
	// PlanID is a unique identifier for an execution plan
	PlanID string

	// PlanExecutionID is a unique identifier for one execution of a plan
	PlanExecutionID string

	// NodeID is the stable identifier of a node within a plan
	NodeID string

	// NodeExecutionID is a unique identifier for one execution attempt of a
	// node
	NodeExecutionID string

	// RuntimeID is the unique identifier of one attempt at a given ambiance
	// level
	RuntimeID string

	// CallbackID is a correlation token a suspended step registers to be
	// resumed later
	CallbackID string

	// StepType tags a node with the step implementation that executes it
	StepType string
)

// NewNodeExecutionID generates a fresh node execution identifier
func NewNodeExecutionID() NodeExecutionID {
	return NodeExecutionID(uuid.New().String())
}

// NewRuntimeID generates a fresh runtime identifier for an ambiance level
func NewRuntimeID() RuntimeID {
	return RuntimeID(uuid.New().String())
}

// NewCallbackID generates a fresh callback correlation token
func NewCallbackID() CallbackID {
	return CallbackID(uuid.New().String())
}
