// Package memcache adapts github.com/bradfitz/gomemcache/memcache into the
// opaque external byte cache spec §2 and §6 describe: a best-effort,
// side-channel cache for rendered tile/region bytes, addressed by the
// caller's own cache key. Nothing in this package knows about JPEG, tiles,
// or the metadata cache — it only moves bytes.
package memcache

import (
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Cache wraps a memcache.Client configured from MEMCACHED_SERVERS /
// MEMCACHED_TIMEOUT / DISABLE_PRIMARY_MEMCACHE (spec §4.1). A nil *Cache is
// valid and behaves as an always-miss, discard-on-set cache so callers
// need not branch on whether memcache is configured.
type Cache struct {
	client  *memcache.Client
	timeout time.Duration
}

// New returns a Cache talking to servers (comma-separated host:port list).
// An empty servers string or disabled=true yields a disabled Cache (every
// Get misses, every Set is a no-op) rather than an error, matching
// DISABLE_PRIMARY_MEMCACHE's intent.
func New(servers string, timeout time.Duration, disabled bool) *Cache {
	if disabled || servers == "" {
		return nil
	}
	addrs := splitServers(servers)
	if len(addrs) == 0 {
		return nil
	}
	client := memcache.New(addrs...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Cache{client: client, timeout: timeout}
}

// Get returns the cached bytes for key, or (nil, false) on any miss or
// error — a memcache outage degrades to "cache disabled", never a request
// failure.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	item, err := c.client.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

// Set stores value under key. Errors are swallowed: memcache is an
// optimization, not a dependency the pipeline can fail on.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl.Seconds()),
	})
}

func splitServers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
