package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// EchoStep completes synchronously with fixed outputs and records the
	// inputs it was started with
	EchoStep struct {
		Outputs api.Args
		inputs  []api.Args
		mu      sync.Mutex
	}

	// FailingStep returns an error from Start
	FailingStep struct {
		Message string
	}

	// BrokenStep violates the response protocol by returning an empty
	// executable response
	BrokenStep struct{}

	// AsyncStep suspends on a fixed set of callback ids and completes with
	// the configured outputs once resumed
	AsyncStep struct {
		Callbacks     []api.CallbackID
		TimeoutMillis int64
		Outputs       api.Args
		ResumeErr     error
		starts        int
		resumes       int
		responses     map[api.CallbackID][]byte
		mu            sync.Mutex
	}

	// AbortableStep is an async step that records abort notifications
	AbortableStep struct {
		AsyncStep
		aborts        int
		userInitiated bool
	}

	// ExpirableStep is an async step that overrides expiry with a fixed
	// step response
	ExpirableStep struct {
		AsyncStep
		OnExpireResponse *api.StepResponse
		expirations      int
	}

	// FailureAwareStep is an async step that records out-of-band failure
	// notifications
	FailureAwareStep struct {
		AsyncStep
		failures []*api.FailureInfo
	}

	// FlakyStep fails its first FailCount starts, then completes with the
	// configured outputs
	FlakyStep struct {
		FailCount int
		Outputs   api.Args
		starts    int
		mu        sync.Mutex
	}
)

var ErrUnexpectedResume = errors.New("step never suspended")

// NewEchoStep creates a synchronous step producing the given outputs
func NewEchoStep(outputs api.Args) *EchoStep {
	return &EchoStep{Outputs: outputs}
}

func (s *EchoStep) Start(
	_ context.Context, _ api.Ambiance, _ json.RawMessage, inputs api.Args,
) (*api.ExecutableResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, inputs)
	return api.Sync(s.Outputs), nil
}

func (s *EchoStep) Resume(
	context.Context, api.Ambiance, json.RawMessage, map[api.CallbackID][]byte,
) (*api.StepResponse, error) {
	return nil, ErrUnexpectedResume
}

// StartCount returns how many times the step was started
func (s *EchoStep) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// Inputs returns the inputs observed by the i-th start
func (s *EchoStep) Inputs(i int) api.Args {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[i]
}

func (s *FailingStep) Start(
	context.Context, api.Ambiance, json.RawMessage, api.Args,
) (*api.ExecutableResponse, error) {
	return nil, errors.New(s.Message)
}

func (s *FailingStep) Resume(
	context.Context, api.Ambiance, json.RawMessage, map[api.CallbackID][]byte,
) (*api.StepResponse, error) {
	return nil, ErrUnexpectedResume
}

func (s *BrokenStep) Start(
	context.Context, api.Ambiance, json.RawMessage, api.Args,
) (*api.ExecutableResponse, error) {
	return &api.ExecutableResponse{}, nil
}

func (s *BrokenStep) Resume(
	context.Context, api.Ambiance, json.RawMessage, map[api.CallbackID][]byte,
) (*api.StepResponse, error) {
	return nil, ErrUnexpectedResume
}

// NewAsyncStep creates an async step suspending on the given callback ids
func NewAsyncStep(timeoutMillis int64, ids ...api.CallbackID) *AsyncStep {
	return &AsyncStep{
		Callbacks:     ids,
		TimeoutMillis: timeoutMillis,
		Outputs:       api.Args{},
	}
}

func (s *AsyncStep) Start(
	context.Context, api.Ambiance, json.RawMessage, api.Args,
) (*api.ExecutableResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return api.Suspend(s.TimeoutMillis, s.Callbacks...), nil
}

func (s *AsyncStep) Resume(
	_ context.Context, _ api.Ambiance, _ json.RawMessage,
	responses map[api.CallbackID][]byte,
) (*api.StepResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes++
	s.responses = responses
	if s.ResumeErr != nil {
		return nil, s.ResumeErr
	}
	return &api.StepResponse{
		Status:  api.StatusSucceeded,
		Outputs: s.Outputs,
	}, nil
}

// StartCount returns how many times the step was started
func (s *AsyncStep) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// ResumeCount returns how many times the step was resumed
func (s *AsyncStep) ResumeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumes
}

// Responses returns the payloads delivered to the last resume
func (s *AsyncStep) Responses() map[api.CallbackID][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses
}

// NewAbortableStep creates an async step that records abort notifications
func NewAbortableStep(
	timeoutMillis int64, ids ...api.CallbackID,
) *AbortableStep {
	return &AbortableStep{AsyncStep: *NewAsyncStep(timeoutMillis, ids...)}
}

func (s *AbortableStep) OnAbort(
	_ context.Context, _ api.Ambiance, _ json.RawMessage, _ *api.Suspension,
	userInitiated bool,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
	s.userInitiated = userInitiated
	return nil
}

// AbortCount returns how many times the abort hook fired
func (s *AbortableStep) AbortCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// UserInitiated reports the flag delivered to the last abort hook
func (s *AbortableStep) UserInitiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userInitiated
}

// NewExpirableStep creates an async step that overrides expiry with resp
func NewExpirableStep(
	resp *api.StepResponse, timeoutMillis int64, ids ...api.CallbackID,
) *ExpirableStep {
	return &ExpirableStep{
		AsyncStep:        *NewAsyncStep(timeoutMillis, ids...),
		OnExpireResponse: resp,
	}
}

func (s *ExpirableStep) OnExpire(
	context.Context, api.Ambiance, json.RawMessage, *api.Suspension,
) *api.StepResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirations++
	return s.OnExpireResponse
}

// ExpireCount returns how many times the expiry hook fired
func (s *ExpirableStep) ExpireCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expirations
}

// NewFailureAwareStep creates an async step that records failure
// notifications
func NewFailureAwareStep(
	timeoutMillis int64, ids ...api.CallbackID,
) *FailureAwareStep {
	return &FailureAwareStep{AsyncStep: *NewAsyncStep(timeoutMillis, ids...)}
}

func (s *FailureAwareStep) OnFailure(
	_ context.Context, _ api.Ambiance, _ json.RawMessage, _ *api.Suspension,
	failure *api.FailureInfo,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure)
	return nil
}

// Failures returns the failure notifications received so far
func (s *FailureAwareStep) Failures() []*api.FailureInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// NewFlakyStep creates a synchronous step that fails failCount times
// before succeeding with the given outputs
func NewFlakyStep(failCount int, outputs api.Args) *FlakyStep {
	return &FlakyStep{FailCount: failCount, Outputs: outputs}
}

func (s *FlakyStep) Start(
	context.Context, api.Ambiance, json.RawMessage, api.Args,
) (*api.ExecutableResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.starts <= s.FailCount {
		return nil, errors.New("transient failure")
	}
	return api.Sync(s.Outputs), nil
}

func (s *FlakyStep) Resume(
	context.Context, api.Ambiance, json.RawMessage, map[api.CallbackID][]byte,
) (*api.StepResponse, error) {
	return nil, ErrUnexpectedResume
}

// StartCount returns how many times the step was started
func (s *FlakyStep) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}
