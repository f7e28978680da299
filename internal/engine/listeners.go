package engine

import (
	"context"

	"github.com/hemanthmantri/conduit/internal/eventlog"
	"github.com/hemanthmantri/conduit/internal/waitnotify"
	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// planEventsListener reacts to externally deposited plans
	planEventsListener struct {
		engine *Engine
	}

	// nodeStartListener drives node executions from start events
	nodeStartListener struct {
		engine *Engine
	}

	// notifyListener feeds correlated responses into the wait layer
	notifyListener struct {
		engine *Engine
	}

	// interruptListener applies aborts
	interruptListener struct {
		engine *Engine
	}
)

func (e *Engine) listeners() []eventlog.Listener {
	return []eventlog.Listener{
		&planEventsListener{engine: e},
		&nodeStartListener{engine: e},
		&notifyListener{engine: e},
		&interruptListener{engine: e},
	}
}

func (l *planEventsListener) Topic() string {
	return api.TopicPlanEvents
}

func (l *planEventsListener) IsProcessable(msg *eventlog.Message) bool {
	return msg.Type == api.EventTypePlanCreated
}

func (l *planEventsListener) Process(
	ctx context.Context, msg *eventlog.Message,
) error {
	var ev api.PlanCreatedEvent
	if err := l.engine.codec.Decode(msg.Payload, &ev); err != nil {
		return err
	}
	return l.engine.handlePlanCreated(ctx, &ev)
}

func (l *nodeStartListener) Topic() string {
	return api.TopicNodeStart
}

func (l *nodeStartListener) IsProcessable(msg *eventlog.Message) bool {
	return msg.Type == api.EventTypeNodeStart
}

func (l *nodeStartListener) Process(
	ctx context.Context, msg *eventlog.Message,
) error {
	var ev api.NodeStartEvent
	if err := l.engine.codec.Decode(msg.Payload, &ev); err != nil {
		return err
	}
	return l.engine.handleNodeStart(ctx, &ev)
}

func (l *notifyListener) Topic() string {
	return api.TopicNotify
}

func (l *notifyListener) IsProcessable(msg *eventlog.Message) bool {
	return msg.Type == api.EventTypeNotify
}

func (l *notifyListener) Process(
	ctx context.Context, msg *eventlog.Message,
) error {
	var ev api.NotifyEvent
	if err := l.engine.codec.Decode(msg.Payload, &ev); err != nil {
		return err
	}
	return l.engine.waits.Notify(ctx, ev.CorrelationID, &waitnotify.Response{
		Payload: ev.Payload,
		Error:   ev.Error,
		Expired: ev.Expired,
	})
}

func (l *interruptListener) Topic() string {
	return api.TopicInterrupt
}

func (l *interruptListener) IsProcessable(msg *eventlog.Message) bool {
	return msg.Type == api.EventTypeInterrupt
}

func (l *interruptListener) Process(
	ctx context.Context, msg *eventlog.Message,
) error {
	var ev api.InterruptEvent
	if err := l.engine.codec.Decode(msg.Payload, &ev); err != nil {
		return err
	}
	return l.engine.handleInterrupt(ctx, &ev)
}
