// Package waitnotify correlates asynchronous notifications with the waits
// that expect them. A wait covers a set of correlation ids and completes
// only when every id has a response; responses arriving before the wait is
// registered are buffered durably, and duplicate notifications for an id
// are discarded in favor of the first
package waitnotify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/log"
)

type (
	// Handler receives the complete response set once per finished wait.
	// A non-nil error releases the wait for redelivery, so handlers must
	// be idempotent
	Handler interface {
		Kind() string
		Notify(
			ctx context.Context, ref string,
			responses map[api.CallbackID]*Response,
		) error
	}

	// Service registers waits and routes notifications to handlers
	Service struct {
		store    Store
		handlers map[string]Handler
		mu       sync.RWMutex
	}
)

// NewService creates a service over the given store
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		handlers: map[string]Handler{},
	}
}

// RegisterHandler makes a handler kind available for dispatch. Kinds are
// registered once at startup, before any wait references them
func (s *Service) RegisterHandler(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[h.Kind()]; ok {
		return fmt.Errorf("%w: %s", ErrKindExists, h.Kind())
	}
	s.handlers[h.Kind()] = h
	return nil
}

// WaitForAll registers a wait for the handler kind over every correlation
// id. If some or all responses already arrived, the wait completes
// immediately through the same path a late notification would take
func (s *Service) WaitForAll(
	ctx context.Context, kind, ref string, ids []api.CallbackID,
) error {
	if len(ids) == 0 {
		return ErrNoCorrelations
	}
	if s.handler(kind) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	inst := &Instance{
		ID:             uuid.NewString(),
		Kind:           kind,
		Ref:            ref,
		CorrelationIDs: ids,
		Status:         WaitPending,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return err
	}
	return s.tryComplete(ctx, inst)
}

// EnsureWait registers a wait only when no instance is listening on the
// first correlation id. The timeout sweep uses it to rebuild a wait whose
// registration was lost between the suspension write and the crash
func (s *Service) EnsureWait(
	ctx context.Context, kind, ref string, ids []api.CallbackID,
) error {
	if len(ids) == 0 {
		return ErrNoCorrelations
	}
	instances, err := s.store.FindByCorrelation(ctx, ids[0])
	if err != nil {
		return err
	}
	if len(instances) > 0 {
		return nil
	}
	return s.WaitForAll(ctx, kind, ref, ids)
}

// Notify records a response for a correlation id and completes any wait
// whose response set is now full. The first response for an id wins;
// repeated calls are no-ops beyond re-attempting completion, which makes
// redelivered notifications safe
func (s *Service) Notify(
	ctx context.Context, id api.CallbackID, resp *Response,
) error {
	stored, err := s.store.RecordResponse(ctx, id, resp)
	if err != nil {
		return err
	}
	if !stored {
		slog.Debug("Duplicate notification discarded", log.CorrelationID(id))
	}

	instances, err := s.store.FindByCorrelation(ctx, id)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if err := s.tryComplete(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) tryComplete(ctx context.Context, inst *Instance) error {
	responses, err := s.store.GetResponses(ctx, inst.CorrelationIDs)
	if err != nil {
		return err
	}
	if len(responses) < len(inst.CorrelationIDs) {
		return nil
	}

	claimed, err := s.store.ClaimInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	h := s.handler(inst.Kind)
	if h == nil {
		// kinds are registered before waits exist; reaching here means a
		// replica came up without this handler, so leave the wait claimed
		// by nobody and let a correctly configured replica retry
		if err := s.store.ReleaseInstance(ctx, inst.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrUnknownKind, inst.Kind)
	}

	if err := h.Notify(ctx, inst.Ref, responses); err != nil {
		if relErr := s.store.ReleaseInstance(ctx, inst.ID); relErr != nil {
			slog.Error("Wait release failed",
				slog.String("wait_id", inst.ID),
				log.Error(relErr))
		}
		return err
	}
	return s.store.DeleteInstance(ctx, inst)
}

func (s *Service) handler(kind string) Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[kind]
}
