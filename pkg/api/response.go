package api

import (
	"errors"
	"fmt"
)

type (
	// ExecutableResponse is what a step returns from Start: either a final
	// synchronous result or an async suspension descriptor. Exactly one of
	// Final and Async must be set
	ExecutableResponse struct {
		Final *StepResponse  `json:"final,omitempty"`
		Async *AsyncResponse `json:"async,omitempty"`
	}

	// AsyncResponse describes a suspension: the callback ids external work
	// will respond on, and how long the engine waits for all of them. A
	// zero timeout defers to the engine's configured default
	AsyncResponse struct {
		CallbackIDs   []CallbackID `json:"callback_ids"`
		TimeoutMillis int64        `json:"timeout_millis"`
	}

	// StepResponse is the final outcome a step computes, either from a
	// synchronous Start or from Resume once all callbacks have reported
	StepResponse struct {
		Outputs Args         `json:"outputs,omitempty"`
		Failure *FailureInfo `json:"failure,omitempty"`
		Status  Status       `json:"status"`
	}
)

var (
	ErrResponseEmpty      = errors.New("executable response has no result")
	ErrResponseAmbiguous  = errors.New("executable response has two results")
	ErrNoCallbackIDs      = errors.New("async response has no callback ids")
	ErrInvalidTimeout     = errors.New("async timeout negative")
	ErrNonTerminalOutcome = errors.New("step response status not terminal")
)

// Sync creates a successful synchronous executable response
func Sync(outputs Args) *ExecutableResponse {
	return &ExecutableResponse{
		Final: &StepResponse{Status: StatusSucceeded, Outputs: outputs},
	}
}

// SyncFailed creates a failed synchronous executable response
func SyncFailed(failure *FailureInfo) *ExecutableResponse {
	return &ExecutableResponse{
		Final: &StepResponse{Status: StatusFailed, Failure: failure},
	}
}

// Suspend creates an async executable response waiting on the callback
// ids. Pass a zero timeout to use the engine's configured default
func Suspend(timeoutMillis int64, ids ...CallbackID) *ExecutableResponse {
	return &ExecutableResponse{
		Async: &AsyncResponse{
			CallbackIDs:   ids,
			TimeoutMillis: timeoutMillis,
		},
	}
}

// Validate enforces the executable response protocol. A violation is fatal
// for the node execution: the engine forces FAILED with an internal
// classification rather than retrying
func (r *ExecutableResponse) Validate() error {
	switch {
	case r == nil, r.Final == nil && r.Async == nil:
		return ErrResponseEmpty
	case r.Final != nil && r.Async != nil:
		return ErrResponseAmbiguous
	case r.Final != nil:
		return r.Final.Validate()
	default:
		return r.Async.Validate()
	}
}

// Validate checks the async suspension descriptor constraints
func (r *AsyncResponse) Validate() error {
	if len(r.CallbackIDs) == 0 {
		return ErrNoCallbackIDs
	}
	if r.TimeoutMillis < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, r.TimeoutMillis)
	}
	return nil
}

// Validate checks that the step response carries a terminal status
func (r *StepResponse) Validate() error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNonTerminalOutcome, r.Status)
	}
	return nil
}
