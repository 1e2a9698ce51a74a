package registry

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"gridreg/pkg/domain"
)

const (
	defaultCacheTTL  = 30 * time.Minute
	cacheSweepPeriod = 10 * time.Minute
)

// configCache holds recently loaded entity headers and version configs.
// Version configs are immutable once written and can be cached indefinitely
// within the TTL; headers are mutable and must be invalidated whenever their
// entity is written, including writes observed only through a sync pull.
type configCache struct {
	c *gocache.Cache
}

func newConfigCache(ttl time.Duration) *configCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &configCache{c: gocache.New(ttl, cacheSweepPeriod)}
}

func headerCacheKey(kind domain.EntityKind, id string) string {
	return fmt.Sprintf("header/%s/%s", kind, id)
}

func configCacheKey(kind domain.EntityKind, id string, v domain.Version) string {
	return fmt.Sprintf("config/%s/%s/%s", kind, id, v)
}

func (cc *configCache) header(kind domain.EntityKind, id string) (any, bool) {
	return cc.c.Get(headerCacheKey(kind, id))
}

func (cc *configCache) setHeader(kind domain.EntityKind, id string, header any) {
	cc.c.SetDefault(headerCacheKey(kind, id), header)
}

func (cc *configCache) config(kind domain.EntityKind, id string, v domain.Version) (any, bool) {
	return cc.c.Get(configCacheKey(kind, id, v))
}

func (cc *configCache) setConfig(kind domain.EntityKind, id string, v domain.Version, cfg any) {
	cc.c.SetDefault(configCacheKey(kind, id, v), cfg)
}

// invalidate drops the cached header and every cached config version of one
// entity.
func (cc *configCache) invalidate(kind domain.EntityKind, id string) {
	cc.c.Delete(headerCacheKey(kind, id))
	prefix := fmt.Sprintf("config/%s/%s/", kind, id)
	for key := range cc.c.Items() {
		if strings.HasPrefix(key, prefix) {
			cc.c.Delete(key)
		}
	}
}

// invalidateAll empties the cache. Used after catalog rebuilds and sync
// pulls, when any cached state may be stale.
func (cc *configCache) invalidateAll() {
	cc.c.Flush()
}
