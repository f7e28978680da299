package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// RedisBroker publishes to and consumes from Redis Streams. One stream
	// per topic; ordering within a stream is total, so keying by plan
	// execution id preserves per-execution order
	RedisBroker struct {
		client *redis.Client
		prefix string
	}

	redisConsumer struct {
		broker    *RedisBroker
		topic     string
		stream    string
		group     string
		name      string
		recovered bool
	}
)

const (
	fieldKey     = "key"
	fieldType    = "type"
	fieldPayload = "payload"

	pollBatchSize = 32
)

// NewRedisBroker creates a Redis Streams broker over an existing client
func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) Publish(
	ctx context.Context, topic, key string, eventType api.EventType,
	payload []byte,
) error {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey(topic),
		Values: map[string]any{
			fieldKey:     key,
			fieldType:    string(eventType),
			fieldPayload: payload,
		},
	}).Err()
}

// NewConsumer joins (creating if necessary) a consumer group on the topic's
// stream. The first poll drains this consumer's pending entries so messages
// delivered but unacknowledged before a restart are processed again
func (b *RedisBroker) NewConsumer(
	topic, group, consumer string,
) (Consumer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := b.streamKey(topic)
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, err
	}

	return &redisConsumer{
		broker: b,
		topic:  topic,
		stream: stream,
		group:  group,
		name:   consumer,
	}, nil
}

func (b *RedisBroker) streamKey(topic string) string {
	return fmt.Sprintf("%s:stream:%s", b.prefix, topic)
}

func (c *redisConsumer) Poll(
	ctx context.Context, maxWait time.Duration,
) ([]*Message, error) {
	cursor := ">"
	if !c.recovered {
		cursor = "0"
	}

	streams, err := c.broker.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, cursor},
		Count:    pollBatchSize,
		Block:    maxWait,
	}).Result()
	if errors.Is(err, redis.Nil) {
		c.recovered = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []*Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msgs = append(msgs, c.toMessage(entry))
		}
	}
	if !c.recovered {
		c.recovered = true
		if len(msgs) == 0 {
			return c.Poll(ctx, maxWait)
		}
	}
	return msgs, nil
}

func (c *redisConsumer) Ack(ctx context.Context, msg *Message) error {
	return c.broker.client.XAck(ctx, c.stream, c.group, msg.ID).Err()
}

func (c *redisConsumer) Close() error {
	return nil
}

func (c *redisConsumer) toMessage(entry redis.XMessage) *Message {
	msg := &Message{
		ID:    entry.ID,
		Topic: c.topic,
	}
	if v, ok := entry.Values[fieldKey].(string); ok {
		msg.Key = v
	}
	if v, ok := entry.Values[fieldType].(string); ok {
		msg.Type = api.EventType(v)
	}
	if v, ok := entry.Values[fieldPayload].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
