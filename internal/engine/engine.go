// Package engine drives plan executions through their node state machines.
// All writes to a node execution funnel through the store's conditional
// status swap, so replicas coordinate without holding locks; everything
// else arrives over the event log and is processed idempotently
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hemanthmantri/conduit/internal/archive"
	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/internal/config"
	"github.com/hemanthmantri/conduit/internal/engine/scheduler"
	"github.com/hemanthmantri/conduit/internal/eventlog"
	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/internal/waitnotify"
	"github.com/hemanthmantri/conduit/pkg/api"
	"github.com/hemanthmantri/conduit/pkg/util"
)

// Engine is the core plan execution engine
type Engine struct {
	store     store.ExecutionStore
	broker    eventlog.Broker
	waits     *waitnotify.Service
	registry  *Registry
	sched     *scheduler.Scheduler
	clock     scheduler.Clock
	makeTimer scheduler.TimerConstructor
	elector   eventlog.Elector
	archiver  *archive.Archiver
	codec     codec.Codec
	plans     *util.LRUCache[*api.Plan]
	config    *config.Config
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

const planCacheSize = 4096

var (
	ErrShutdownTimeout   = errors.New("shutdown timeout exceeded")
	ErrNotWaiting        = errors.New("node execution not waiting")
	ErrInvalidTransition = errors.New("invalid node status transition")
)

// New creates an engine over the given store, event log, and wait store
func New(
	s store.ExecutionStore, broker eventlog.Broker, waits waitnotify.Store,
	cfg *config.Config,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     s,
		broker:    broker,
		waits:     waitnotify.NewService(waits),
		registry:  NewRegistry(),
		clock:     time.Now,
		makeTimer: scheduler.NewTimer,
		elector:   eventlog.AlwaysLeader{},
		codec:     codec.JSON(),
		plans:     util.NewLRUCache[*api.Plan](planCacheSize),
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.sched = scheduler.New(e.clock, e.makeTimer)
	return e
}

// SetClock replaces the engine clock. Must be called before Start
func (e *Engine) SetClock(clock scheduler.Clock) {
	e.clock = clock
	e.sched = scheduler.New(clock, e.makeTimer)
}

// SetTimerConstructor replaces the scheduler timer source. Must be called
// before Start
func (e *Engine) SetTimerConstructor(makeTimer scheduler.TimerConstructor) {
	e.makeTimer = makeTimer
	e.sched = scheduler.New(e.clock, makeTimer)
}

// SetElector installs the leader elector gating event consumption
func (e *Engine) SetElector(elector eventlog.Elector) {
	e.elector = elector
}

// SetArchiver installs the terminal plan execution archiver
func (e *Engine) SetArchiver(a *archive.Archiver) {
	e.archiver = a
}

// RegisterStep binds a step type to its implementation
func (e *Engine) RegisterStep(t api.StepType, step api.Executable) error {
	return e.registry.Register(t, step)
}

// Now returns the current wall time from the engine's configured clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Start begins consuming events and sweeping timeouts
func (e *Engine) Start() error {
	slog.Info("Engine starting")

	if err := e.waits.RegisterHandler(&resumeHandler{engine: e}); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sched.Run(e.ctx)
	}()

	for _, listener := range e.listeners() {
		consumer, err := e.broker.NewConsumer(
			listener.Topic(), e.config.ConsumerGroup, e.config.ConsumerName,
		)
		if err != nil {
			return err
		}
		runner := eventlog.NewRunner(consumer, listener, e.elector)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() { _ = consumer.Close() }()
			runner.Run(e.ctx)
		}()
	}

	e.scheduleSweep()
	return nil
}

// Stop gracefully shuts down the engine
func (e *Engine) Stop() error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// GetNodeExecution retrieves a node execution by id
func (e *Engine) GetNodeExecution(
	ctx context.Context, id api.NodeExecutionID,
) (*api.NodeExecution, error) {
	return e.store.Get(ctx, id)
}

// GetPlanExecution retrieves a plan execution by id
func (e *Engine) GetPlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) (*api.PlanExecution, error) {
	return e.store.GetPlanExecution(ctx, id)
}

// getPlan reads a plan through the immutable plan cache
func (e *Engine) getPlan(
	ctx context.Context, id api.PlanID,
) (*api.Plan, error) {
	return e.plans.Get(string(id), func() (*api.Plan, error) {
		return e.store.GetPlan(ctx, id)
	})
}

// resolveNode looks a node up within a cached plan
func (e *Engine) resolveNode(
	ctx context.Context, planID api.PlanID, nodeID api.NodeID,
) (*api.Node, error) {
	plan, err := e.getPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return plan.GetNode(nodeID)
}

func (e *Engine) publish(
	ctx context.Context, topic, key string, eventType api.EventType,
	payload any,
) error {
	data, err := e.codec.Encode(payload)
	if err != nil {
		return err
	}
	return e.broker.Publish(ctx, topic, key, eventType, data)
}
