// Package heartbeat provides an ephemeral, Redis-backed worker-liveness
// cache. It exists alongside the authoritative Postgres store so that
// heartbeat writes never compete with claim transactions for row locks
// (§9's "optional heartbeat column... if online detection is desired").
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache records and queries "last seen" timestamps for running Workers,
// keyed by profile id.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Cache over an already-connected redis.Client.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(profileID string) string { return "fleetsched:heartbeat:" + profileID }

// Beat records that profileID's Worker is alive right now, expiring after
// the configured TTL if no further beat arrives.
func (c *Cache) Beat(ctx context.Context, profileID string, now time.Time) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Set(ctx, key(profileID), now.Format(time.RFC3339Nano), c.ttl).Err(); err != nil {
		return fmt.Errorf("op=heartbeat.beat: %w", err)
	}
	return nil
}

// Online reports whether profileID has beaten within its TTL.
func (c *Cache) Online(ctx context.Context, profileID string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, key(profileID)).Result()
	if err != nil {
		return false, fmt.Errorf("op=heartbeat.online: %w", err)
	}
	return n > 0, nil
}

// Run periodically beats for profileID until ctx is cancelled, intended to
// run as a background goroutine alongside a Worker's main loop.
func (c *Cache) Run(ctx context.Context, profileID string, interval time.Duration, now func() time.Time) {
	if c == nil || c.rdb == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.Beat(ctx, profileID, now())
		}
	}
}
