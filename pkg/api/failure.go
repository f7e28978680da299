package api

type (
	// FailureType is the machine-readable classification of a terminal
	// failure, letting upstream consumers distinguish "your step failed"
	// from "the platform lost the response"
	FailureType string

	// FailureInfo carries a human-readable summary and a machine-readable
	// classification for a terminal FAILED/EXPIRED/ABORTED node execution
	FailureInfo struct {
		Message string      `json:"message"`
		Type    FailureType `json:"type"`
	}
)

const (
	// FailureApplication marks a failure reported by the step logic itself
	FailureApplication FailureType = "APPLICATION"

	// FailureTimeout marks a suspension that elapsed without resolution
	FailureTimeout FailureType = "TIMEOUT"

	// FailureInternal marks a protocol violation or engine-internal error;
	// retrying would not change a structurally malformed response
	FailureInternal FailureType = "INTERNAL"

	// FailurePlatform marks an out-of-band infrastructure failure
	FailurePlatform FailureType = "PLATFORM"

	// FailureAborted marks an operator- or policy-initiated abort
	FailureAborted FailureType = "ABORTED"
)

// NewFailure creates a failure info with the given classification
func NewFailure(t FailureType, msg string) *FailureInfo {
	return &FailureInfo{Type: t, Message: msg}
}
