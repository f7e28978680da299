package eventlog

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaseElector elects at most one leader per key using a Redis lease. The
// holder renews on each IsLeader call; if it dies, the lease expires and
// another replica acquires it
type LeaseElector struct {
	client *redis.Client
	key    string
	id     string
	ttl    time.Duration
}

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

func NewLeaseElector(
	client *redis.Client, key, id string, ttl time.Duration,
) *LeaseElector {
	return &LeaseElector{client: client, key: key, id: id, ttl: ttl}
}

func (e *LeaseElector) IsLeader(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.key, e.id, e.ttl).Result()
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	renewed, err := e.client.Eval(
		ctx, renewScript, []string{e.key}, e.id, e.ttl.Milliseconds(),
	).Int()
	return err == nil && renewed == 1
}
