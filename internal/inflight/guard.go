// Package inflight holds a short-lived Redis lock per checkout fingerprint so a
// double-submitted cart cannot open two gateway orders.
package inflight

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 15 * time.Minute

// Guard is safe to use as a nil pointer; a nil Guard never blocks.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{
		client: client,
		ttl:    ttl,
	}
}

// Acquire takes the lock for fingerprint on behalf of owner. It reports false
// when another checkout holds it.
func (g *Guard) Acquire(ctx context.Context, fingerprint, owner string) (bool, error) {
	if g == nil {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, lockKey(fingerprint), owner, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// releaseScript deletes the lock only while owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release drops the lock if owner holds it. Releasing a lock that expired or
// passed to another checkout is not an error.
func (g *Guard) Release(ctx context.Context, fingerprint, owner string) error {
	if g == nil || fingerprint == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, g.client, []string{lockKey(fingerprint)}, owner).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

func lockKey(fingerprint string) string {
	return fmt.Sprintf("checkout:inflight:%s", fingerprint)
}
