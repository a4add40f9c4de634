package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 100

// RedisBackend implements Backend using Redis. Keys share the memcached key prefix.
type RedisBackend struct {
	rdb        *redis.Client
	expiration time.Duration
}

// NewRedisBackend parses url, connects and pings. safetyTTL is applied as the
// key expiration so abandoned keys age out.
func NewRedisBackend(ctx context.Context, url, password string, safetyTTL time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBackend{rdb: rdb, expiration: safetyTTL}, nil
}

// NewRedisBackendFromClient wraps an existing client without pinging.
func NewRedisBackendFromClient(rdb *redis.Client, safetyTTL time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, expiration: safetyTTL}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return data, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, keyPrefix+key, value, r.expiration).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// Keys walks SCAN MATCH prefix* and returns the keys without the backend prefix.
func (r *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	match := keyPrefix + prefix + "*"
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, keyPrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}
