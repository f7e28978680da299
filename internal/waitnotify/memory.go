package waitnotify

import (
	"context"
	"sync"
	"time"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// MemoryStore keeps waits and responses in process. Snapshot copies are
	// returned so callers never observe concurrent mutation. Responses with
	// no matching wait are dropped once they outlive the retention window
	MemoryStore struct {
		instances map[string]*Instance
		byCorr    map[api.CallbackID][]string
		responses map[api.CallbackID]*storedResponse
		retention time.Duration
		now       func() time.Time
		mu        sync.RWMutex
	}

	storedResponse struct {
		response   *Response
		recordedAt time.Time
	}
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: map[string]*Instance{},
		byCorr:    map[api.CallbackID][]string{},
		responses: map[api.CallbackID]*storedResponse{},
		retention: DefaultResponseRetention,
		now:       time.Now,
	}
}

// SetResponseRetention overrides how long an unclaimed response is kept
func (s *MemoryStore) SetResponseRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = d
}

func (s *MemoryStore) CreateInstance(
	_ context.Context, inst *Instance,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *inst
	s.instances[inst.ID] = &c
	for _, id := range inst.CorrelationIDs {
		s.byCorr[id] = append(s.byCorr[id], inst.ID)
	}
	return nil
}

func (s *MemoryStore) FindByCorrelation(
	_ context.Context, id api.CallbackID,
) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Instance
	for _, instID := range s.byCorr[id] {
		if inst, ok := s.instances[instID]; ok {
			c := *inst
			res = append(res, &c)
		}
	}
	return res, nil
}

func (s *MemoryStore) RecordResponse(
	_ context.Context, id api.CallbackID, resp *Response,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictStale()
	if _, ok := s.responses[id]; ok {
		return false, nil
	}
	c := *resp
	s.responses[id] = &storedResponse{response: &c, recordedAt: s.now()}
	return true, nil
}

func (s *MemoryStore) GetResponses(
	_ context.Context, ids []api.CallbackID,
) (map[api.CallbackID]*Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := map[api.CallbackID]*Response{}
	for _, id := range ids {
		stored, ok := s.responses[id]
		if !ok || s.isStaleOrphan(id, stored) {
			continue
		}
		c := *stored.response
		res[id] = &c
	}
	return res, nil
}

func (s *MemoryStore) ClaimInstance(
	_ context.Context, id string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return false, nil
	}
	if inst.Status != WaitPending {
		return false, nil
	}
	inst.Status = WaitProcessing
	return true, nil
}

func (s *MemoryStore) ReleaseInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}
	inst.Status = WaitPending
	return nil
}

func (s *MemoryStore) DeleteInstance(
	_ context.Context, inst *Instance,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, inst.ID)
	for _, id := range inst.CorrelationIDs {
		s.byCorr[id] = removeID(s.byCorr[id], inst.ID)
		if len(s.byCorr[id]) == 0 {
			delete(s.byCorr, id)
			delete(s.responses, id)
		}
	}
	return nil
}

// evictStale drops responses that outlived the retention window with no
// wait referencing them. Responses a live wait will collect are never
// evicted. Called with the write lock held
func (s *MemoryStore) evictStale() {
	for id, stored := range s.responses {
		if s.isStaleOrphan(id, stored) {
			delete(s.responses, id)
		}
	}
}

func (s *MemoryStore) isStaleOrphan(
	id api.CallbackID, stored *storedResponse,
) bool {
	if len(s.byCorr[id]) > 0 {
		return false
	}
	return s.now().Sub(stored.recordedAt) >= s.retention
}

func removeID(ids []string, id string) []string {
	res := ids[:0]
	for _, v := range ids {
		if v != id {
			res = append(res, v)
		}
	}
	return res
}
