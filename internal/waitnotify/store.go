package waitnotify

import (
	"context"
	"errors"
	"time"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// WaitStatus tracks an instance through its lifecycle. The pending to
	// processing transition is a compare-and-swap, so exactly one worker
	// delivers a completed wait
	WaitStatus string

	// Response is the durable record of one notification. Recorded before
	// any instance lookup, so a notify that races ahead of its register is
	// buffered rather than lost
	Response struct {
		Payload []byte `json:"payload,omitempty"`
		Error   string `json:"error,omitempty"`
		Expired bool   `json:"expired,omitempty"`
	}

	// Instance is an all-of wait over a set of correlation ids on behalf of
	// a registered handler kind. Ref is an opaque reference the handler
	// uses to find its subject
	Instance struct {
		ID             string           `json:"id"`
		Kind           string           `json:"kind"`
		Ref            string           `json:"ref"`
		CorrelationIDs []api.CallbackID `json:"correlation_ids"`
		Status         WaitStatus       `json:"status"`
		CreatedAt      int64            `json:"created_at"`
	}

	// Store persists wait instances and buffered responses
	Store interface {
		// CreateInstance persists a new pending instance
		CreateInstance(ctx context.Context, inst *Instance) error

		// FindByCorrelation returns instances waiting on the correlation id
		FindByCorrelation(
			ctx context.Context, id api.CallbackID,
		) ([]*Instance, error)

		// RecordResponse buffers a response under its correlation id. The
		// first response for an id wins; later ones report stored=false
		RecordResponse(
			ctx context.Context, id api.CallbackID, resp *Response,
		) (bool, error)

		// GetResponses returns the buffered responses for the given ids,
		// omitting ids that have none
		GetResponses(
			ctx context.Context, ids []api.CallbackID,
		) (map[api.CallbackID]*Response, error)

		// ClaimInstance transitions pending to processing. Returns false
		// without error when another worker already claimed it
		ClaimInstance(ctx context.Context, id string) (bool, error)

		// ReleaseInstance returns a claimed instance to pending so a failed
		// delivery can be retried
		ReleaseInstance(ctx context.Context, id string) error

		// DeleteInstance removes a delivered instance and its correlation
		// index entries
		DeleteInstance(ctx context.Context, inst *Instance) error
	}
)

const (
	WaitPending    WaitStatus = "PENDING"
	WaitProcessing WaitStatus = "PROCESSING"

	// DefaultResponseRetention bounds how long a response with no matching
	// wait is kept. A notification that arrives after its instance was
	// deleted never gets collected, so without a bound the buffer only grows
	DefaultResponseRetention = 24 * time.Hour
)

var (
	ErrInstanceNotFound = errors.New("wait instance not found")
	ErrNoCorrelations   = errors.New("wait requires correlation ids")
	ErrUnknownKind      = errors.New("unknown handler kind")
	ErrKindExists       = errors.New("handler kind already registered")
)
