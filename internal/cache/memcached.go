package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather:"

// maxKeyLen is memcached's key length limit.
const maxKeyLen = 250

// maxRelativeExp is memcached's limit for relative expirations; larger values
// are read as unix timestamps.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedBackend implements Backend using memcached. Memcached cannot list
// keys, so the backend remembers the keys it wrote in this process; Keys only
// sees those.
type MemcachedBackend struct {
	client     *memcache.Client
	expiration int32

	mu      sync.Mutex
	written map[string]struct{}
}

// NewMemcachedBackend creates a MemcachedBackend. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. safetyTTL is a
// server-side expiration so abandoned keys age out; it should be at least the
// longest family TTL.
func NewMemcachedBackend(addrs string, timeout time.Duration, maxIdleConns int, safetyTTL time.Duration) *MemcachedBackend {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	exp := int32(safetyTTL.Seconds())
	if exp <= 0 || exp > maxRelativeExp {
		exp = 3600 // fallback 1h if invalid
	}
	return &MemcachedBackend{client: client, expiration: exp, written: make(map[string]struct{})}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a logical key to a memcached key. The part after the city prefix is
// base64url encoded so names with spaces or non-ASCII runes stay legal; keys
// that would still exceed maxKeyLen are hashed. written keeps the logical keys.
func (c *MemcachedBackend) key(k string) string {
	if name, ok := strings.CutPrefix(k, CityPrefix); ok {
		k = CityPrefix + base64.RawURLEncoding.EncodeToString([]byte(name))
	}
	if len(keyPrefix)+len(k) > maxKeyLen || !legalKey(k) {
		sum := sha256.Sum256([]byte(k))
		return keyPrefix + "h_" + hex.EncodeToString(sum[:])
	}
	return keyPrefix + k
}

func legalKey(k string) bool {
	for i := 0; i < len(k); i++ {
		if k[i] <= ' ' || k[i] == 0x7f {
			return false
		}
	}
	return true
}

// Get returns false, nil on cache miss; false, err on error.
func (c *MemcachedBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

func (c *MemcachedBackend) Set(ctx context.Context, key string, value []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      value,
		Expiration: c.expiration,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *MemcachedBackend) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := c.client.Delete(c.key(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	c.mu.Lock()
	delete(c.written, key)
	c.mu.Unlock()
	return nil
}

// Keys returns the keys under prefix written by this process.
func (c *MemcachedBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.written {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedBackend) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedBackend) Close() error {
	return c.client.Close()
}
