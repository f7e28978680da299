package waitnotify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// RedisStore persists waits and responses in Redis. Responses are written
// with SETNX so the first notification for a correlation id wins, and the
// pending to processing claim is a WATCH-based compare-and-swap. A response
// no wait references carries a TTL; registering a wait lifts it
type RedisStore struct {
	client    *redis.Client
	codec     codec.Codec
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a wait store over an existing client
func NewRedisStore(
	client *redis.Client, prefix string, c codec.Codec,
) *RedisStore {
	return &RedisStore{
		client:    client,
		codec:     c,
		prefix:    prefix,
		retention: DefaultResponseRetention,
	}
}

// SetResponseRetention overrides how long an unclaimed response is kept
func (s *RedisStore) SetResponseRetention(d time.Duration) {
	s.retention = d
}

func (s *RedisStore) CreateInstance(
	ctx context.Context, inst *Instance,
) error {
	data, err := s.codec.Encode(inst)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.instanceKey(inst.ID), data, 0)
		for _, id := range inst.CorrelationIDs {
			pipe.SAdd(ctx, s.corrKey(id), inst.ID)
			// a response buffered before this wait registered is now
			// claimed, so its eviction clock stops
			pipe.Persist(ctx, s.responseKey(id))
		}
		return nil
	})
	return err
}

func (s *RedisStore) FindByCorrelation(
	ctx context.Context, id api.CallbackID,
) ([]*Instance, error) {
	instIDs, err := s.client.SMembers(ctx, s.corrKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var res []*Instance
	for _, instID := range instIDs {
		inst, err := s.getInstance(ctx, instID)
		if errors.Is(err, ErrInstanceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, inst)
	}
	return res, nil
}

func (s *RedisStore) RecordResponse(
	ctx context.Context, id api.CallbackID, resp *Response,
) (bool, error) {
	data, err := s.codec.Encode(resp)
	if err != nil {
		return false, err
	}
	stored, err := s.client.SetNX(
		ctx, s.responseKey(id), data, s.retention,
	).Result()
	if err != nil || !stored {
		return stored, err
	}
	waiting, err := s.client.Exists(ctx, s.corrKey(id)).Result()
	if err != nil {
		return true, err
	}
	if waiting > 0 {
		err = s.client.Persist(ctx, s.responseKey(id)).Err()
	}
	return true, err
}

func (s *RedisStore) GetResponses(
	ctx context.Context, ids []api.CallbackID,
) (map[api.CallbackID]*Response, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.responseKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	res := map[api.CallbackID]*Response{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var resp Response
		if err := s.codec.Decode([]byte(str), &resp); err != nil {
			return nil, err
		}
		res[ids[i]] = &resp
	}
	return res, nil
}

func (s *RedisStore) ClaimInstance(
	ctx context.Context, id string,
) (bool, error) {
	key := s.instanceKey(id)
	claimed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var inst Instance
		if err := s.codec.Decode(data, &inst); err != nil {
			return err
		}
		if inst.Status != WaitPending {
			return nil
		}
		inst.Status = WaitProcessing
		next, err := s.codec.Encode(&inst)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			claimed = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// another worker moved it first
		return false, nil
	}
	return claimed, err
}

func (s *RedisStore) ReleaseInstance(ctx context.Context, id string) error {
	key := s.instanceKey(id)
	inst, err := s.getInstance(ctx, id)
	if err != nil {
		return err
	}
	inst.Status = WaitPending
	data, err := s.codec.Encode(inst)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

func (s *RedisStore) DeleteInstance(
	ctx context.Context, inst *Instance,
) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.instanceKey(inst.ID))
		for _, id := range inst.CorrelationIDs {
			pipe.SRem(ctx, s.corrKey(id), inst.ID)
			pipe.Del(ctx, s.responseKey(id))
		}
		return nil
	})
	return err
}

func (s *RedisStore) getInstance(
	ctx context.Context, id string,
) (*Instance, error) {
	data, err := s.client.Get(ctx, s.instanceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var inst Instance
	if err := s.codec.Decode(data, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *RedisStore) instanceKey(id string) string {
	return fmt.Sprintf("%s:wait:%s", s.prefix, id)
}

func (s *RedisStore) corrKey(id api.CallbackID) string {
	return fmt.Sprintf("%s:waitcorr:%s", s.prefix, id)
}

func (s *RedisStore) responseKey(id api.CallbackID) string {
	return fmt.Sprintf("%s:waitresp:%s", s.prefix, id)
}
