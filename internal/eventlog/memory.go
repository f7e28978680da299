package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// MemoryBroker is an in-process log. Each consumer group keeps its own
	// cursor per topic, and unacknowledged messages are redelivered on the
	// next poll, matching the durable broker's at-least-once contract
	MemoryBroker struct {
		topics map[string][]*Message
		groups map[string]*memoryGroup
		seq    uint64
		mu     sync.Mutex
	}

	memoryGroup struct {
		pending map[string]bool
		cursor  int
	}

	memoryConsumer struct {
		broker *MemoryBroker
		topic  string
		group  string
		closed bool
		mu     sync.Mutex
	}
)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: map[string][]*Message{},
		groups: map[string]*memoryGroup{},
	}
}

func (b *MemoryBroker) Publish(
	_ context.Context, topic, key string, eventType api.EventType,
	payload []byte,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.topics[topic] = append(b.topics[topic], &Message{
		ID:      fmt.Sprintf("%d-0", b.seq),
		Topic:   topic,
		Key:     key,
		Type:    eventType,
		Payload: payload,
	})
	return nil
}

func (b *MemoryBroker) NewConsumer(
	topic, group, _ string,
) (Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gk := groupKey(topic, group)
	if _, ok := b.groups[gk]; !ok {
		b.groups[gk] = &memoryGroup{pending: map[string]bool{}}
	}
	return &memoryConsumer{broker: b, topic: topic, group: group}, nil
}

func (c *memoryConsumer) Poll(
	ctx context.Context, maxWait time.Duration,
) ([]*Message, error) {
	deadline := time.Now().Add(maxWait)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrConsumerClosed
		}
		c.mu.Unlock()

		if msgs := c.take(); len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *memoryConsumer) take() []*Message {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.groups[groupKey(c.topic, c.group)]
	var msgs []*Message

	// redeliver anything handed out but never acknowledged
	for _, msg := range b.topics[c.topic][:g.cursor] {
		if g.pending[msg.ID] {
			msgs = append(msgs, msg)
		}
	}
	for _, msg := range b.topics[c.topic][g.cursor:] {
		g.pending[msg.ID] = true
		msgs = append(msgs, msg)
	}
	g.cursor = len(b.topics[c.topic])
	return msgs
}

func (c *memoryConsumer) Ack(_ context.Context, msg *Message) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups[groupKey(c.topic, c.group)].pending, msg.ID)
	return nil
}

func (c *memoryConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func groupKey(topic, group string) string {
	return topic + "/" + group
}
