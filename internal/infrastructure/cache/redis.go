// Package cache holds the ephemeral run-state flags and consumer controls kept next to the durable store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

const (
	defaultPrefix     = "discovery"
	maxControlRetries = 8
)

// RedisCache stores run-state flags, metrics snapshots and consumer controls in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var (
	_ ports.RunStateCache = (*RedisCache)(nil)
	_ ports.ControlStore  = (*RedisCache)(nil)
)

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// NewRedisCacheWithURL parses a redis:// URL and connects.
func NewRedisCacheWithURL(url, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCache(redis.NewClient(opts), prefix), nil
}

// Client exposes the underlying client so the event stream can share the connection pool.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) runStateKey(patchID string) string {
	return c.prefix + ":run_state:" + patchID
}

func (c *RedisCache) metricsKey(runID string) string {
	return c.prefix + ":run_metrics:" + runID
}

func (c *RedisCache) controlKey(lane domain.Lane) string {
	return c.prefix + ":control:" + lane.ConsumerID + ":" + lane.PatchID
}

// SetRunState records the latest status of a patch's run.
func (c *RedisCache) SetRunState(ctx context.Context, patchID string, status domain.RunStatus) error {
	if err := c.client.Set(ctx, c.runStateKey(patchID), string(status), 0).Err(); err != nil {
		return fmt.Errorf("set run state: %w", err)
	}
	return nil
}

// GetRunState reads the cached status, ok is false on a miss.
func (c *RedisCache) GetRunState(ctx context.Context, patchID string) (domain.RunStatus, bool, error) {
	val, err := c.client.Get(ctx, c.runStateKey(patchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get run state: %w", err)
	}
	return domain.RunStatus(val), true, nil
}

// SnapshotMetrics stores a JSON copy of run metrics for ttl.
func (c *RedisCache) SnapshotMetrics(ctx context.Context, runID string, m domain.RunMetrics, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := c.client.Set(ctx, c.metricsKey(runID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("snapshot metrics: %w", err)
	}
	return nil
}

// GetControl loads a lane's control.
func (c *RedisCache) GetControl(ctx context.Context, lane domain.Lane) (domain.ConsumerControl, bool, error) {
	raw, err := c.client.Get(ctx, c.controlKey(lane)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ConsumerControl{}, false, nil
	}
	if err != nil {
		return domain.ConsumerControl{}, false, fmt.Errorf("get control: %w", err)
	}
	var ctl domain.ConsumerControl
	if err := json.Unmarshal(raw, &ctl); err != nil {
		return domain.ConsumerControl{}, false, fmt.Errorf("decode control: %w", err)
	}
	return ctl, true, nil
}

// UpdateControl applies fn inside an optimistic WATCH/MULTI transaction, retrying on conflicts.
func (c *RedisCache) UpdateControl(ctx context.Context, lane domain.Lane, fn func(domain.ConsumerControl) domain.ConsumerControl) (domain.ConsumerControl, error) {
	key := c.controlKey(lane)
	var result domain.ConsumerControl

	txf := func(tx *redis.Tx) error {
		current := domain.ConsumerControl{ConsumerID: lane.ConsumerID, PatchID: lane.PatchID}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("decode control: %w", err)
			}
		}

		next := fn(current)
		next.ConsumerID = lane.ConsumerID
		next.PatchID = lane.PatchID
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode control: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxControlRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.ConsumerControl{}, fmt.Errorf("update control: %w", err)
	}
	return domain.ConsumerControl{}, fmt.Errorf("update control %s: too many concurrent writers", key)
}
