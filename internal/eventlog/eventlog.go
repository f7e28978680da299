// Package eventlog abstracts a durable, ordered, partitioned log with
// consumer-group semantics: at-least-once delivery, no upper bound on
// redelivery without acknowledgment. Events for one plan execution are
// published under its key so they land in the same partition
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// Message is one entry read from the log. Type is carried in the
	// envelope so listeners can prefilter without decoding the payload
	Message struct {
		ID      string
		Topic   string
		Key     string
		Type    api.EventType
		Payload []byte
	}

	// Publisher appends events to a topic
	Publisher interface {
		Publish(
			ctx context.Context, topic, key string, eventType api.EventType,
			payload []byte,
		) error
	}

	// Consumer reads one topic on behalf of a consumer group. A message is
	// redelivered until acknowledged
	Consumer interface {
		// Poll blocks up to maxWait for the next batch of messages
		Poll(ctx context.Context, maxWait time.Duration) ([]*Message, error)

		// Ack marks a message as processed; called only after a listener's
		// Process returns success
		Ack(ctx context.Context, msg *Message) error

		Close() error
	}

	// Broker combines publishing with consumer construction
	Broker interface {
		Publisher
		NewConsumer(topic, group, consumer string) (Consumer, error)
	}

	// Listener decodes a message's opaque payload into a typed event and
	// dispatches it. IsProcessable allows cheap prefiltering before the
	// more expensive decode-and-handle path; processing must be idempotent
	// against redelivery
	Listener interface {
		Topic() string
		IsProcessable(msg *Message) bool
		Process(ctx context.Context, msg *Message) error
	}

	// Elector reports whether this replica is the elected leader of its
	// consumer deployment. Non-leaders must not acknowledge or apply side
	// effects
	Elector interface {
		IsLeader(ctx context.Context) bool
	}

	// AlwaysLeader is the single-replica elector
	AlwaysLeader struct{}
)

var ErrConsumerClosed = errors.New("consumer closed")

func (AlwaysLeader) IsLeader(context.Context) bool {
	return true
}
