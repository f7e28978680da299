package eventlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/hemanthmantri/conduit/pkg/log"
)

// Runner drives one listener from one consumer on a dedicated goroutine.
// Transient poll and process failures are retried with backoff; a message
// is acknowledged only after the listener processed it successfully, so an
// unprocessed message is redelivered
type Runner struct {
	consumer Consumer
	listener Listener
	elector  Elector
	pollWait time.Duration
	backoff  time.Duration
}

const (
	defaultPollWait = 2 * time.Second
	defaultBackoff  = 1 * time.Second
)

// NewRunner creates a runner for the listener's topic
func NewRunner(consumer Consumer, listener Listener, elector Elector) *Runner {
	return &Runner{
		consumer: consumer,
		listener: listener,
		elector:  elector,
		pollWait: defaultPollWait,
		backoff:  defaultBackoff,
	}
}

// SetPollWait overrides how long a single poll blocks for messages
func (r *Runner) SetPollWait(d time.Duration) {
	r.pollWait = d
}

// SetBackoff overrides the delay after poll failures and non-leader polls
func (r *Runner) SetBackoff(d time.Duration) {
	r.backoff = d
}

// Run polls until the context is cancelled. A replica that is not the
// elected leader re-polls after a backoff instead of processing, so two
// replicas never apply side effects for the same message
func (r *Runner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !r.elector.IsLeader(ctx) {
			r.sleep(ctx, r.backoff)
			continue
		}

		msgs, err := r.consumer.Poll(ctx, r.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Event poll failed",
				log.Topic(r.listener.Topic()),
				log.Error(err))
			r.sleep(ctx, r.backoff)
			continue
		}

		for _, msg := range msgs {
			r.handle(ctx, msg)
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg *Message) {
	if !r.listener.IsProcessable(msg) {
		r.ack(ctx, msg)
		return
	}

	if err := r.listener.Process(ctx, msg); err != nil {
		// Left unacknowledged so the log redelivers it
		slog.Error("Event processing failed",
			log.Topic(msg.Topic),
			log.MessageID(msg.ID),
			log.Error(err))
		return
	}

	r.ack(ctx, msg)
}

func (r *Runner) ack(ctx context.Context, msg *Message) {
	if err := r.consumer.Ack(ctx, msg); err != nil {
		slog.Error("Event acknowledge failed",
			log.Topic(msg.Topic),
			log.MessageID(msg.ID),
			log.Error(err))
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
