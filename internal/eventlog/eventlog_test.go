package eventlog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/internal/eventlog"
	"github.com/hemanthmantri/conduit/pkg/api"
)

const testTopic = "test.topic"

type recordingListener struct {
	topic     string
	processed []*eventlog.Message
	fail      map[string]error
	skip      map[string]bool
	mu        sync.Mutex
}

func newRecordingListener(topic string) *recordingListener {
	return &recordingListener{
		topic: topic,
		fail:  map[string]error{},
		skip:  map[string]bool{},
	}
}

func (l *recordingListener) Topic() string {
	return l.topic
}

func (l *recordingListener) IsProcessable(msg *eventlog.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.skip[msg.Key]
}

func (l *recordingListener) Process(
	_ context.Context, msg *eventlog.Message,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail[msg.Key]; err != nil {
		return err
	}
	l.processed = append(l.processed, msg)
	return nil
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processed)
}

// TestMemoryBrokerDelivery tests that published messages reach a consumer
// and carry their envelope fields
func TestMemoryBrokerDelivery(t *testing.T) {
	broker := eventlog.NewMemoryBroker()
	ctx := context.Background()

	err := broker.Publish(
		ctx, testTopic, "plan-1", api.EventTypeNodeStart, []byte(`{"a":1}`),
	)
	require.NoError(t, err)

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	msgs, err := consumer.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "plan-1", msgs[0].Key)
	assert.Equal(t, api.EventTypeNodeStart, msgs[0].Type)
	assert.Equal(t, []byte(`{"a":1}`), msgs[0].Payload)
}

// TestMemoryBrokerRedelivery tests that unacknowledged messages are handed
// out again on the next poll while acknowledged ones are not
func TestMemoryBrokerRedelivery(t *testing.T) {
	broker := eventlog.NewMemoryBroker()
	ctx := context.Background()

	require.NoError(t, broker.Publish(
		ctx, testTopic, "a", api.EventTypeNotify, []byte("1"),
	))
	require.NoError(t, broker.Publish(
		ctx, testTopic, "b", api.EventTypeNotify, []byte("2"),
	))

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)

	msgs, err := consumer.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NoError(t, consumer.Ack(ctx, msgs[0]))

	msgs, err = consumer.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].Key)

	require.NoError(t, consumer.Ack(ctx, msgs[0]))
	msgs, err = consumer.Poll(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// TestMemoryBrokerIndependentGroups tests that each consumer group gets its
// own copy of the log
func TestMemoryBrokerIndependentGroups(t *testing.T) {
	broker := eventlog.NewMemoryBroker()
	ctx := context.Background()

	require.NoError(t, broker.Publish(
		ctx, testTopic, "a", api.EventTypeNotify, []byte("1"),
	))

	first, err := broker.NewConsumer(testTopic, "first", "c1")
	require.NoError(t, err)
	second, err := broker.NewConsumer(testTopic, "second", "c1")
	require.NoError(t, err)

	msgs, err := first.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, first.Ack(ctx, msgs[0]))

	msgs, err = second.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// TestRunnerAcksAfterProcess tests that the runner acknowledges only after a
// listener processes successfully, so failures are redelivered
func TestRunnerAcksAfterProcess(t *testing.T) {
	broker := eventlog.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := newRecordingListener(testTopic)
	listener.fail["bad"] = errors.New("transient")

	require.NoError(t, broker.Publish(
		ctx, testTopic, "bad", api.EventTypeNotify, []byte("1"),
	))
	require.NoError(t, broker.Publish(
		ctx, testTopic, "ok", api.EventTypeNotify, []byte("2"),
	))

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)

	runner := eventlog.NewRunner(consumer, listener, eventlog.AlwaysLeader{})
	runner.SetPollWait(10 * time.Millisecond)
	runner.SetBackoff(5 * time.Millisecond)
	go runner.Run(ctx)

	assert.Eventually(t, func() bool {
		return listener.count() >= 1
	}, time.Second, 5*time.Millisecond)

	// clear the failure; the unacknowledged message must come back around
	listener.mu.Lock()
	delete(listener.fail, "bad")
	listener.mu.Unlock()

	assert.Eventually(t, func() bool {
		return listener.count() >= 2
	}, time.Second, 5*time.Millisecond)
}

// TestRunnerSkipsUnprocessable tests that messages rejected by IsProcessable
// are acknowledged without being processed
func TestRunnerSkipsUnprocessable(t *testing.T) {
	broker := eventlog.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := newRecordingListener(testTopic)
	listener.skip["ignored"] = true

	require.NoError(t, broker.Publish(
		ctx, testTopic, "ignored", api.EventTypeNotify, []byte("1"),
	))
	require.NoError(t, broker.Publish(
		ctx, testTopic, "kept", api.EventTypeNotify, []byte("2"),
	))

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)

	runner := eventlog.NewRunner(consumer, listener, eventlog.AlwaysLeader{})
	runner.SetPollWait(10 * time.Millisecond)
	go runner.Run(ctx)

	assert.Eventually(t, func() bool {
		return listener.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "kept", listener.processed[0].Key)
}

type fixedElector struct {
	leader bool
	mu     sync.Mutex
}

func (e *fixedElector) IsLeader(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *fixedElector) setLeader(leader bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leader = leader
}

// TestRunnerLeaderGating tests that a non-leader replica does not consume
// and starts consuming once it becomes leader
func TestRunnerLeaderGating(t *testing.T) {
	broker := eventlog.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := newRecordingListener(testTopic)
	elector := &fixedElector{}

	require.NoError(t, broker.Publish(
		ctx, testTopic, "a", api.EventTypeNotify, []byte("1"),
	))

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)

	runner := eventlog.NewRunner(consumer, listener, elector)
	runner.SetPollWait(10 * time.Millisecond)
	runner.SetBackoff(5 * time.Millisecond)
	go runner.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, listener.count())

	elector.setLeader(true)
	assert.Eventually(t, func() bool {
		return listener.count() == 1
	}, time.Second, 5*time.Millisecond)
}

// TestRedisBrokerRoundTrip tests stream publish, consumer-group read, and
// acknowledgment against a Redis server
func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	broker := eventlog.NewRedisBroker(client, "conduit-test")
	ctx := context.Background()

	require.NoError(t, broker.Publish(
		ctx, testTopic, "plan-1", api.EventTypeNodeStart, []byte(`{"n":1}`),
	))

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	msgs, err := consumer.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "plan-1", msgs[0].Key)
	assert.Equal(t, api.EventTypeNodeStart, msgs[0].Type)
	assert.Equal(t, []byte(`{"n":1}`), msgs[0].Payload)

	require.NoError(t, consumer.Ack(ctx, msgs[0]))
}

// TestRedisBrokerPendingRecovery tests that a restarted consumer sees its
// delivered but unacknowledged entries again
func TestRedisBrokerPendingRecovery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	broker := eventlog.NewRedisBroker(client, "conduit-test")
	ctx := context.Background()

	require.NoError(t, broker.Publish(
		ctx, testTopic, "a", api.EventTypeNotify, []byte("1"),
	))

	consumer, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)
	msgs, err := consumer.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	// crash before acking

	restarted, err := broker.NewConsumer(testTopic, "group", "c1")
	require.NoError(t, err)
	msgs, err = restarted.Poll(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Key)
}

// TestLeaseElector tests that exactly one replica holds the lease and that
// it transfers after expiry
func TestLeaseElector(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	first := eventlog.NewLeaseElector(client, "lease", "one", time.Minute)
	second := eventlog.NewLeaseElector(client, "lease", "two", time.Minute)

	assert.True(t, first.IsLeader(ctx))
	assert.False(t, second.IsLeader(ctx))
	assert.True(t, first.IsLeader(ctx))

	mr.FastForward(2 * time.Minute)
	assert.True(t, second.IsLeader(ctx))
	assert.False(t, first.IsLeader(ctx))
}
