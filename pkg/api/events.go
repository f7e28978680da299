package api

type (
	// EventType discriminates event payloads on the event log
	EventType string

	// InterruptKind classifies an interrupt delivered to an execution
	InterruptKind string

	// NodeStartEvent asks the engine to begin executing a node within a
	// plan execution. NodeExecutionID is pre-assigned by the publisher so
	// redelivery is a no-op
	NodeStartEvent struct {
		Ambiance        Ambiance          `json:"ambiance"`
		NodeExecutionID NodeExecutionID   `json:"node_execution_id"`
		NodeID          NodeID            `json:"node_id"`
		ParentID        NodeExecutionID   `json:"parent_id,omitempty"`
		PreviousID      NodeExecutionID   `json:"previous_id,omitempty"`
		RetryIndex      int               `json:"retry_index,omitempty"`
		RetryIDs        []NodeExecutionID `json:"retry_ids,omitempty"`
	}

	// PlanCreatedEvent is deposited by the external plan-creation process
	// once a plan is available for execution
	PlanCreatedEvent struct {
		Plan            *Plan             `json:"plan"`
		Scope           map[string]string `json:"scope,omitempty"`
		PlanExecutionID PlanExecutionID   `json:"plan_execution_id"`
	}

	// NotifyEvent carries a correlated response for a suspended node. When
	// Expired is set the payload is a synthesized expiry from the timeout
	// sweep rather than a genuine response
	NotifyEvent struct {
		CorrelationID CallbackID `json:"correlation_id"`
		Payload       []byte     `json:"payload,omitempty"`
		Error         string     `json:"error,omitempty"`
		Expired       bool       `json:"expired,omitempty"`
	}

	// InterruptEvent cancels or otherwise interrupts a running execution.
	// It travels the same log as every other event and carries no priority
	// over a racing success notification
	InterruptEvent struct {
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id,omitempty"`
		Kind            InterruptKind   `json:"kind"`
		UserInitiated   bool            `json:"user_initiated"`
		Reason          string          `json:"reason,omitempty"`
	}
)

const (
	EventTypeNodeStart   EventType = "node_start"
	EventTypePlanCreated EventType = "plan_created"
	EventTypeNotify      EventType = "notify"
	EventTypeInterrupt   EventType = "interrupt"
)

const (
	InterruptAbort    InterruptKind = "abort"
	InterruptAbortAll InterruptKind = "abort_all"
)

// Topic names for the event log. Events for one plan execution are keyed by
// its id so they land in the same partition
const (
	TopicNodeStart  = "conduit.node-start"
	TopicPlanEvents = "conduit.plan-events"
	TopicNotify     = "conduit.notify"
	TopicInterrupt  = "conduit.interrupt"
)
