package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache on a shared Redis instance. Each scope keeps a set of its
// member keys so invalidation does not need SCAN.
type Redis struct {
	client *redis.Client
}

// NewRedis connects using a redis:// URL and verifies connectivity.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis { return &Redis{client: client} }

func scopeSetKey(scope string) string { return "scope:" + scope }

func (r *Redis) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, fullKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, scope, key string, val []byte, ttl time.Duration) error {
	k := fullKey(scope, key)
	set := scopeSetKey(scope)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, val, ttl)
		pipe.SAdd(ctx, set, k)
		// The member set outlives every member it tracks.
		pipe.Expire(ctx, set, ttl+time.Minute)
		return nil
	})
	return err
}

func (r *Redis) InvalidateScope(ctx context.Context, scope string) error {
	set := scopeSetKey(scope)
	keys, err := r.client.SMembers(ctx, set).Result()
	if err != nil {
		return err
	}
	keys = append(keys, set)
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) HealthPing(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
