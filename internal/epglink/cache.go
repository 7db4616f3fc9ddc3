package epglink

import (
	"strconv"
	"strings"
	"sync"

	"github.com/coocood/freecache"

	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/playlist"
)

// CachedResolver memoizes Resolve per guide snapshot. Render ticks resolve the
// same playlist over and over against an unchanged guide; the cache is
// dropped whenever a different *guide.Guide is passed in.
type CachedResolver struct {
	Resolver

	cache *freecache.Cache
	ttl   int // seconds, 0 = until the snapshot changes

	mu   sync.Mutex
	snap *guide.Guide
	gen  uint64
}

// NewCachedResolver wraps r with a freecache of sizeBytes. sizeBytes <= 0
// disables caching.
func NewCachedResolver(r Resolver, sizeBytes int) *CachedResolver {
	c := &CachedResolver{Resolver: r}
	if sizeBytes > 0 {
		c.cache = freecache.NewCache(sizeBytes)
	}
	return c
}

func (c *CachedResolver) Resolve(pc playlist.Channel, g *guide.Guide) (guide.Channel, Method, bool) {
	if c.cache == nil || g == nil {
		return c.Resolver.Resolve(pc, g)
	}
	key := c.key(c.generation(g), pc)
	if v, err := c.cache.Get(key); err == nil {
		method, id, _ := strings.Cut(string(v), "\x00")
		if method == "" {
			return guide.Channel{}, "", false
		}
		if ch, ok := g.Channel(id); ok {
			return ch, Method(method), true
		}
	}
	ch, method, ok := c.Resolver.Resolve(pc, g)
	_ = c.cache.Set(key, []byte(string(method)+"\x00"+ch.ID), c.ttl)
	return ch, method, ok
}

// Reset drops every memoized result.
func (c *CachedResolver) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
	c.gen++
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Stats returns cache hit and miss counts.
func (c *CachedResolver) Stats() (hits, misses int64) {
	if c.cache == nil {
		return 0, 0
	}
	return c.cache.HitCount(), c.cache.MissCount()
}

func (c *CachedResolver) generation(g *guide.Guide) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g != c.snap {
		c.snap = g
		c.gen++
		c.cache.Clear()
	}
	return c.gen
}

func (c *CachedResolver) key(gen uint64, pc playlist.Channel) []byte {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(gen, 36))
	for _, s := range []string{pc.TVGID, pc.Name, pc.TVGName} {
		b.WriteByte(0)
		b.WriteString(s)
	}
	return []byte(b.String())
}
