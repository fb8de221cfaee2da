// Package maintenance holds the switch that makes the session router refuse
// new sessions.
package maintenance

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKey is where the Redis backend keeps the flag
const DefaultRedisKey = "bookshelf:maintenance"

// Flag reports and changes the maintenance state
type Flag interface {
	Enabled(ctx context.Context) bool
	Set(ctx context.Context, on bool) error
}

// Static keeps the flag in process memory
type Static struct {
	on atomic.Bool
}

// NewStatic returns a process-local flag with the given initial state
func NewStatic(on bool) *Static {
	s := &Static{}
	s.on.Store(on)
	return s
}

func (s *Static) Enabled(context.Context) bool { return s.on.Load() }

func (s *Static) Set(_ context.Context, on bool) error {
	s.on.Store(on)
	return nil
}

// Redis shares the flag between processes through one Redis key
type Redis struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

// NewRedis returns a Redis-backed flag
func NewRedis(client *redis.Client, key string, log *zap.Logger) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, key: key, log: log}
}

// Enabled treats an unreachable Redis as "not in maintenance" so a cache
// outage does not take the API down with it.
func (r *Redis) Enabled(ctx context.Context) bool {
	v, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("Failed to read maintenance flag", zap.Error(err))
		}
		return false
	}
	return v == "1"
}

func (r *Redis) Set(ctx context.Context, on bool) error {
	if on {
		return r.client.Set(ctx, r.key, "1", 0).Err()
	}
	return r.client.Del(ctx, r.key).Err()
}
