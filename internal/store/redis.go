package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// RedisConfig holds connection settings for the Redis-backed store
	RedisConfig struct {
		Addr     string
		Password string
		Prefix   string
		DB       int
	}

	// Redis is an ExecutionStore backed by Redis. Node execution documents
	// live in plain keys; child and timeout indexes are maintained in the
	// same transaction as the document writes. Status CAS uses WATCH-based
	// optimistic transactions
	Redis struct {
		client *redis.Client
		codec  codec.Codec
		prefix string
	}
)

// rootParentKey marks the children index entry for parentless executions. A
// literal empty parent id would collide with a legitimately absent key
const rootParentKey = "__root__"

var errCASRetry = errors.New("cas transaction conflict")

// NewRedis creates a Redis-backed execution store
func NewRedis(cfg RedisConfig, c codec.Codec) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		client: client,
		codec:  c,
		prefix: cfg.Prefix,
	}
}

// NewRedisWithClient creates a store over an existing client, used by tests
func NewRedisWithClient(
	client *redis.Client, prefix string, c codec.Codec,
) *Redis {
	return &Redis{client: client, codec: c, prefix: prefix}
}

// Close releases the underlying Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) CreatePlan(ctx context.Context, plan *api.Plan) error {
	data, err := r.codec.Encode(plan)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.planKey(plan.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: plan %s", ErrAlreadyExists, plan.ID)
	}
	return nil
}

func (r *Redis) GetPlan(
	ctx context.Context, id api.PlanID,
) (*api.Plan, error) {
	data, err := r.client.Get(ctx, r.planKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: plan %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var plan api.Plan
	if err := r.codec.Decode(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *Redis) ResolveNode(
	ctx context.Context, planID api.PlanID, nodeID api.NodeID,
) (*api.Node, error) {
	plan, err := r.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return plan.GetNode(nodeID)
}

func (r *Redis) CreatePlanExecution(
	ctx context.Context, exec *api.PlanExecution,
) error {
	data, err := r.codec.Encode(exec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.planExecKey(exec.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: plan execution %s", ErrAlreadyExists, exec.ID)
	}
	return nil
}

func (r *Redis) GetPlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) (*api.PlanExecution, error) {
	data, err := r.client.Get(ctx, r.planExecKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: plan execution %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var exec api.PlanExecution
	if err := r.codec.Decode(data, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *Redis) UpdatePlanExecutionStatus(
	ctx context.Context, id api.PlanExecutionID, expected []api.Status,
	next api.Status,
) (*api.PlanExecution, error) {
	var updated *api.PlanExecution
	key := r.planExecKey(id)

	err := r.watchRetry(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: plan execution %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var exec api.PlanExecution
		if err := r.codec.Decode(data, &exec); err != nil {
			return err
		}
		if !statusIn(exec.Status, expected) {
			return fmt.Errorf("%w: plan execution %s is %s",
				ErrStatusConflict, id, exec.Status)
		}

		exec.Status = next
		if next.IsTerminal() {
			exec.EndedAt = time.Now()
		}
		encoded, err := r.codec.Encode(&exec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Redis) CreateNodeExecution(
	ctx context.Context, exec *api.NodeExecution,
) error {
	data, err := r.codec.Encode(exec)
	if err != nil {
		return err
	}

	key := r.nodeKey(exec.ID)
	ok, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: node execution %s", ErrAlreadyExists, exec.ID)
	}

	planExecID := exec.Ambiance.PlanExecutionID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.childrenKey(planExecID, exec.ParentID),
			string(exec.ID))
		pipe.SAdd(ctx, r.execsKey(planExecID), string(exec.ID))
		return nil
	})
	if err != nil {
		return err
	}

	if exec.PreviousID != "" {
		return r.linkSibling(ctx, exec.PreviousID, exec.ID)
	}
	return nil
}

// linkSibling records the forward sibling pointer on the previous node
// execution in the chain
func (r *Redis) linkSibling(
	ctx context.Context, prevID, nextID api.NodeExecutionID,
) error {
	key := r.nodeKey(prevID)
	return r.watchRetry(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var prev api.NodeExecution
		if err := r.codec.Decode(data, &prev); err != nil {
			return err
		}
		prev.NextID = nextID
		encoded, err := r.codec.Encode(&prev)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	})
}

func (r *Redis) Get(
	ctx context.Context, id api.NodeExecutionID,
) (*api.NodeExecution, error) {
	data, err := r.client.Get(ctx, r.nodeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: node execution %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var exec api.NodeExecution
	if err := r.codec.Decode(data, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *Redis) FindChildren(
	ctx context.Context, planExecutionID api.PlanExecutionID,
	parentID api.NodeExecutionID, _ Fields,
) ([]*api.NodeExecution, error) {
	ids, err := r.client.SMembers(
		ctx, r.childrenKey(planExecutionID, parentID),
	).Result()
	if err != nil {
		return nil, err
	}
	return r.getAll(ctx, ids)
}

func (r *Redis) CompareAndSwapStatus(
	ctx context.Context, id api.NodeExecutionID, expected []api.Status,
	next api.Status, patch *Patch,
) (*api.NodeExecution, error) {
	var updated *api.NodeExecution
	key := r.nodeKey(id)

	err := r.watchRetry(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: node execution %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var exec api.NodeExecution
		if err := r.codec.Decode(data, &exec); err != nil {
			return err
		}
		if !statusIn(exec.Status, expected) {
			return fmt.Errorf("%w: node execution %s is %s, not in %v",
				ErrStatusConflict, id, exec.Status, expected)
		}

		exec.Status = next
		patch.Apply(&exec)
		encoded, err := r.codec.Encode(&exec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if exec.Status.IsWaiting() && exec.Suspension != nil {
				pipe.ZAdd(ctx, r.timeoutsKey(), redis.Z{
					Score:  float64(exec.Suspension.Deadline.UnixMilli()),
					Member: string(exec.ID),
				})
			} else {
				pipe.ZRem(ctx, r.timeoutsKey(), string(exec.ID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = &exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Redis) FindByTimeoutBefore(
	ctx context.Context, ts time.Time,
) ([]*api.NodeExecution, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.timeoutsKey(),
		&redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%d", ts.UnixMilli()),
		},
	).Result()
	if err != nil {
		return nil, err
	}
	return r.getAll(ctx, ids)
}

func (r *Redis) FindByPlanExecution(
	ctx context.Context, planExecutionID api.PlanExecutionID,
	statuses ...api.Status,
) ([]*api.NodeExecution, error) {
	ids, err := r.client.SMembers(
		ctx, r.execsKey(planExecutionID),
	).Result()
	if err != nil {
		return nil, err
	}

	execs, err := r.getAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return execs, nil
	}

	filtered := execs[:0]
	for _, exec := range execs {
		if statusIn(exec.Status, statuses) {
			filtered = append(filtered, exec)
		}
	}
	return filtered, nil
}

func (r *Redis) DeletePlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) error {
	ids, err := r.client.SMembers(ctx, r.execsKey(id)).Result()
	if err != nil {
		return err
	}

	execs, err := r.getAll(ctx, ids)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, exec := range execs {
			pipe.Del(ctx, r.nodeKey(exec.ID))
			pipe.Del(ctx, r.childrenKey(id, exec.ID))
			pipe.ZRem(ctx, r.timeoutsKey(), string(exec.ID))
		}
		pipe.Del(ctx, r.childrenKey(id, ""))
		pipe.Del(ctx, r.execsKey(id))
		pipe.Del(ctx, r.planExecKey(id))
		return nil
	})
	return err
}

func (r *Redis) getAll(
	ctx context.Context, ids []string,
) ([]*api.NodeExecution, error) {
	var execs []*api.NodeExecution
	for _, id := range ids {
		exec, err := r.Get(ctx, api.NodeExecutionID(id))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, nil
}

// watchRetry runs fn inside an optimistic WATCH transaction, retrying on
// concurrent modification of the watched key
func (r *Redis) watchRetry(
	ctx context.Context, key string, fn func(*redis.Tx) error,
) error {
	for {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, errCASRetry) {
			continue
		}
		return err
	}
}

func (r *Redis) planKey(id api.PlanID) string {
	return fmt.Sprintf("%s:plan:%s", r.prefix, id)
}

func (r *Redis) planExecKey(id api.PlanExecutionID) string {
	return fmt.Sprintf("%s:planexec:%s", r.prefix, id)
}

func (r *Redis) nodeKey(id api.NodeExecutionID) string {
	return fmt.Sprintf("%s:node:%s", r.prefix, id)
}

func (r *Redis) childrenKey(
	planExecID api.PlanExecutionID, parentID api.NodeExecutionID,
) string {
	parent := rootParentKey
	if parentID != "" {
		parent = string(parentID)
	}
	return fmt.Sprintf("%s:children:%s:%s", r.prefix, planExecID, parent)
}

func (r *Redis) execsKey(planExecID api.PlanExecutionID) string {
	return fmt.Sprintf("%s:execs:%s", r.prefix, planExecID)
}

func (r *Redis) timeoutsKey() string {
	return fmt.Sprintf("%s:timeouts", r.prefix)
}
