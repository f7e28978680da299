package waitnotify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/internal/waitnotify"
	"github.com/hemanthmantri/conduit/pkg/api"
)

type captureHandler struct {
	kind      string
	delivered []map[api.CallbackID]*waitnotify.Response
	refs      []string
	fail      error
	mu        sync.Mutex
}

func newCaptureHandler(kind string) *captureHandler {
	return &captureHandler{kind: kind}
}

func (h *captureHandler) Kind() string {
	return h.kind
}

func (h *captureHandler) Notify(
	_ context.Context, ref string,
	responses map[api.CallbackID]*waitnotify.Response,
) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.refs = append(h.refs, ref)
	h.delivered = append(h.delivered, responses)
	return nil
}

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.delivered)
}

func newService(t *testing.T) (*waitnotify.Service, *captureHandler) {
	t.Helper()
	svc := waitnotify.NewService(waitnotify.NewMemoryStore())
	h := newCaptureHandler("resume")
	require.NoError(t, svc.RegisterHandler(h))
	return svc, h
}

// TestWaitCompletesWhenAllNotified tests that a wait over several
// correlation ids fires only once the last response arrives
func TestWaitCompletesWhenAllNotified(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	ids := []api.CallbackID{"cb-1", "cb-2", "cb-3"}
	require.NoError(t, svc.WaitForAll(ctx, "resume", "node-1", ids))

	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("1")}))
	require.NoError(t, svc.Notify(ctx, "cb-2",
		&waitnotify.Response{Payload: []byte("2")}))
	assert.Zero(t, h.count())

	require.NoError(t, svc.Notify(ctx, "cb-3",
		&waitnotify.Response{Payload: []byte("3")}))
	require.Equal(t, 1, h.count())
	assert.Equal(t, "node-1", h.refs[0])
	assert.Len(t, h.delivered[0], 3)
	assert.Equal(t, []byte("2"), h.delivered[0]["cb-2"].Payload)
}

// TestNotifyBeforeRegister tests that responses arriving before the wait is
// registered are buffered and the wait completes at registration time
func TestNotifyBeforeRegister(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("early")}))
	assert.Zero(t, h.count())

	err := svc.WaitForAll(ctx, "resume", "node-1", []api.CallbackID{"cb-1"})
	require.NoError(t, err)
	require.Equal(t, 1, h.count())
	assert.Equal(t, []byte("early"), h.delivered[0]["cb-1"].Payload)
}

// TestFirstNotificationWins tests that a second response for the same
// correlation id is discarded, not merged or overwritten
func TestFirstNotificationWins(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.WaitForAll(
		ctx, "resume", "node-1", []api.CallbackID{"cb-1"},
	))
	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("first")}))
	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("second")}))

	require.Equal(t, 1, h.count())
	assert.Equal(t, []byte("first"), h.delivered[0]["cb-1"].Payload)
}

// TestRedeliveredNotifyIsNoOp tests that replaying the completing
// notification does not deliver the wait a second time
func TestRedeliveredNotifyIsNoOp(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.WaitForAll(
		ctx, "resume", "node-1", []api.CallbackID{"cb-1"},
	))
	resp := &waitnotify.Response{Payload: []byte("done")}
	require.NoError(t, svc.Notify(ctx, "cb-1", resp))
	require.NoError(t, svc.Notify(ctx, "cb-1", resp))
	require.NoError(t, svc.Notify(ctx, "cb-1", resp))

	assert.Equal(t, 1, h.count())
}

// TestFailedDeliveryIsRetried tests that a handler error releases the wait
// so a later notification attempt delivers it again
func TestFailedDeliveryIsRetried(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.WaitForAll(
		ctx, "resume", "node-1", []api.CallbackID{"cb-1"},
	))

	h.fail = errors.New("store unavailable")
	err := svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("x")})
	require.Error(t, err)
	assert.Zero(t, h.count())

	h.fail = nil
	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("x")}))
	assert.Equal(t, 1, h.count())
}

func permutations(ids []api.CallbackID) [][]api.CallbackID {
	if len(ids) <= 1 {
		return [][]api.CallbackID{append([]api.CallbackID{}, ids...)}
	}
	var res [][]api.CallbackID
	for i := range ids {
		rest := make([]api.CallbackID, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, p := range permutations(rest) {
			res = append(res, append([]api.CallbackID{ids[i]}, p...))
		}
	}
	return res
}

// TestEveryArrivalOrderResumesOnce tests that regardless of the order the
// responses arrive in, the wait delivers exactly once, after the last one,
// and a replay of the completing notification changes nothing
func TestEveryArrivalOrderResumesOnce(t *testing.T) {
	ids := []api.CallbackID{"cb-1", "cb-2", "cb-3"}
	for _, order := range permutations(ids) {
		t.Run(fmt.Sprintf("%v", order), func(t *testing.T) {
			svc, h := newService(t)
			ctx := context.Background()
			require.NoError(t, svc.WaitForAll(ctx, "resume", "node-1", ids))

			for i, id := range order {
				require.NoError(t, svc.Notify(ctx, id,
					&waitnotify.Response{Payload: []byte(id)}))
				if i < len(order)-1 {
					require.Zero(t, h.count())
				}
			}
			require.Equal(t, 1, h.count())
			assert.Len(t, h.delivered[0], 3)

			last := order[len(order)-1]
			require.NoError(t, svc.Notify(ctx, last,
				&waitnotify.Response{Payload: []byte("replay")}))
			assert.Equal(t, 1, h.count())
		})
	}
}

// TestExpiredResponsesDeliver tests that expiry notifications fill the
// remaining correlation slots and the handler sees the mixed response set
func TestExpiredResponsesDeliver(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	ids := []api.CallbackID{"cb-1", "cb-2"}
	require.NoError(t, svc.WaitForAll(ctx, "resume", "node-1", ids))

	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("partial")}))
	require.NoError(t, svc.Notify(ctx, "cb-2",
		&waitnotify.Response{Expired: true}))

	require.Equal(t, 1, h.count())
	assert.False(t, h.delivered[0]["cb-1"].Expired)
	assert.True(t, h.delivered[0]["cb-2"].Expired)
	assert.Equal(t, []byte("partial"), h.delivered[0]["cb-1"].Payload)
}

// TestWaitValidation tests rejection of empty waits and unregistered kinds
func TestWaitValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	err := svc.WaitForAll(ctx, "resume", "node-1", nil)
	assert.ErrorIs(t, err, waitnotify.ErrNoCorrelations)

	err = svc.WaitForAll(ctx, "unknown", "node-1", []api.CallbackID{"cb-1"})
	assert.ErrorIs(t, err, waitnotify.ErrUnknownKind)

	h := newCaptureHandler("resume")
	assert.ErrorIs(t, svc.RegisterHandler(h), waitnotify.ErrKindExists)
}

// TestRedisStoreWaitLifecycle tests the full register, buffer, claim, and
// delete cycle against a Redis-backed store
func TestRedisStoreWaitLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := waitnotify.NewRedisStore(client, "conduit-test", codec.JSON())
	svc := waitnotify.NewService(store)
	h := newCaptureHandler("resume")
	require.NoError(t, svc.RegisterHandler(h))
	ctx := context.Background()

	// an early notification is buffered durably
	require.NoError(t, svc.Notify(ctx, "cb-2",
		&waitnotify.Response{Payload: []byte("early")}))

	ids := []api.CallbackID{"cb-1", "cb-2"}
	require.NoError(t, svc.WaitForAll(ctx, "resume", "node-1", ids))
	assert.Zero(t, h.count())

	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("late")}))
	require.Equal(t, 1, h.count())
	assert.Equal(t, []byte("early"), h.delivered[0]["cb-2"].Payload)

	// delivered waits leave nothing behind, so replays find no instance
	require.NoError(t, svc.Notify(ctx, "cb-1",
		&waitnotify.Response{Payload: []byte("late")}))
	assert.Equal(t, 1, h.count())
}

// TestRedisStoreClaimOnce tests that only one claim on a pending instance
// succeeds
func TestRedisStoreClaimOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := waitnotify.NewRedisStore(client, "conduit-test", codec.JSON())
	ctx := context.Background()

	inst := &waitnotify.Instance{
		ID:             "inst-1",
		Kind:           "resume",
		Ref:            "node-1",
		CorrelationIDs: []api.CallbackID{"cb-1"},
		Status:         waitnotify.WaitPending,
	}
	require.NoError(t, store.CreateInstance(ctx, inst))

	claimed, err := store.ClaimInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, store.ReleaseInstance(ctx, "inst-1"))
	claimed, err = store.ClaimInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

// TestRedisOrphanResponseExpires tests that a buffered response no wait
// ever registers for ages out, while one a wait claims survives and still
// completes the wait
func TestRedisOrphanResponseExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := waitnotify.NewRedisStore(client, "conduit-test", codec.JSON())
	store.SetResponseRetention(time.Hour)
	svc := waitnotify.NewService(store)
	h := newCaptureHandler("resume")
	require.NoError(t, svc.RegisterHandler(h))
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, "cb-orphan",
		&waitnotify.Response{Payload: []byte("nobody waits")}))
	require.NoError(t, svc.Notify(ctx, "cb-kept",
		&waitnotify.Response{Payload: []byte("buffered")}))

	// registering the wait lifts the TTL on its buffered response
	ids := []api.CallbackID{"cb-kept", "cb-late"}
	require.NoError(t, svc.WaitForAll(ctx, "resume", "node-1", ids))

	mr.FastForward(2 * time.Hour)

	res, err := store.GetResponses(ctx, []api.CallbackID{"cb-orphan"})
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, svc.Notify(ctx, "cb-late",
		&waitnotify.Response{Payload: []byte("finally")}))
	require.Equal(t, 1, h.count())
	assert.Equal(t, []byte("buffered"), h.delivered[0]["cb-kept"].Payload)
}
