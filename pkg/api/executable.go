package api

import (
	"context"
	"encoding/json"
)

type (
	// Executable is the capability set a step implementation fulfills. The
	// engine resolves one per node at execution time through the registry
	// and drives it through the suspend/resume protocol. Params is the
	// node's opaque static payload
	Executable interface {
		// Start begins the step. It returns either a final result or a
		// suspension descriptor; for the latter the engine persists the
		// descriptor, releases the calling goroutine entirely, and resumes
		// through Resume when the callbacks report
		Start(
			ctx context.Context, amb Ambiance, params json.RawMessage,
			inputs Args,
		) (*ExecutableResponse, error)

		// Resume is called once all registered callback ids have produced a
		// response. The engine guarantees at most one invocation per
		// suspension; implementations should still tolerate duplicates
		// under failure injection
		Resume(
			ctx context.Context, amb Ambiance, params json.RawMessage,
			responses map[CallbackID][]byte,
		) (*StepResponse, error)
	}

	// Abortable is implemented by steps that want a best-effort cleanup
	// hook when a suspension is aborted. Failures here are logged, never
	// propagated, and do not block the abort transition
	Abortable interface {
		OnAbort(
			ctx context.Context, amb Ambiance, params json.RawMessage,
			suspension *Suspension, userInitiated bool,
		) error
	}

	// Expirable is implemented by steps that override the default expiry
	// behavior (a timeout-classified failure)
	Expirable interface {
		OnExpire(
			ctx context.Context, amb Ambiance, params json.RawMessage,
			suspension *Suspension,
		) *StepResponse
	}

	// FailureAware is implemented by steps that want notification when the
	// engine decides the suspended unit of work failed out-of-band
	FailureAware interface {
		OnFailure(
			ctx context.Context, amb Ambiance, params json.RawMessage,
			suspension *Suspension, failure *FailureInfo,
		) error
	}
)
