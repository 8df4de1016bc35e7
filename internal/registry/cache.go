package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is used when NewDiscoveryCache is given a zero TTL.
const DefaultTTL = 30 * time.Second

// cachedFamily holds the discovered names of one family with their timestamp.
type cachedFamily struct {
	Names     []string
	FetchedAt time.Time
}

// snapshot is the last full enumeration of the registry.
type snapshot struct {
	Components []Component
	FetchedAt  time.Time
}

// DiscoveryCache is the process-wide cache of discovered devices per family.
// One instance is shared by every adapter; it re-enumerates through the
// lister only when the requested entry is missing or older than the TTL.
// A single enumeration serves every family lookup within the same window.
type DiscoveryCache struct {
	lister Lister
	ttl    time.Duration
	now    func() time.Time

	mu           sync.RWMutex
	families     map[string]*cachedFamily
	last         *snapshot
	enumerations int
}

// NewDiscoveryCache creates a cache over lister.
// Parameters:
//   - ttl: Time-to-live for cache entries (0 = use DefaultTTL)
func NewDiscoveryCache(lister Lister, ttl time.Duration) *DiscoveryCache {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	log.Info().Dur("ttl", ttl).Msg("Discovery cache initialized")

	return &DiscoveryCache{
		lister:   lister,
		ttl:      ttl,
		now:      time.Now,
		families: make(map[string]*cachedFamily),
	}
}

// SetClock replaces the time source. Used by tests.
func (c *DiscoveryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Lookup returns the names of devices whose declared type matches one of
// types, in enumeration order. A fresh cached entry for family is returned
// as is; otherwise it is rebuilt from a fresh enumeration.
func (c *DiscoveryCache) Lookup(ctx context.Context, family string, types ...string) []string {
	c.mu.RLock()
	cached, ok := c.families[family]
	fresh := ok && c.fresh(cached.FetchedAt)
	c.mu.RUnlock()

	if fresh {
		return append([]string(nil), cached.Names...)
	}

	snap := c.snapshot(ctx)
	names := FilterByType(snap.Components, types...)

	c.mu.Lock()
	c.families[family] = &cachedFamily{
		Names:     names,
		FetchedAt: snap.FetchedAt,
	}
	c.mu.Unlock()

	log.Debug().
		Str("family", family).
		Strs("devices", names).
		Msg("Discovery cache refreshed")

	return append([]string(nil), names...)
}

// Components returns every component of the latest enumeration, enumerating
// again only if the snapshot is older than the TTL.
func (c *DiscoveryCache) Components(ctx context.Context) []Component {
	snap := c.snapshot(ctx)
	return append([]Component(nil), snap.Components...)
}

// Cached returns the components of the last enumeration without
// enumerating, whatever its age. It is nil before the first enumeration.
func (c *DiscoveryCache) Cached() []Component {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil
	}
	return append([]Component(nil), c.last.Components...)
}

// snapshot returns the last enumeration if it is fresh, or enumerates.
func (c *DiscoveryCache) snapshot(ctx context.Context) snapshot {
	c.mu.RLock()
	last := c.last
	fresh := last != nil && c.fresh(last.FetchedAt)
	c.mu.RUnlock()

	if fresh {
		return *last
	}

	snap := snapshot{
		Components: c.enumerate(ctx),
	}

	c.mu.Lock()
	snap.FetchedAt = c.now()
	c.last = &snap
	c.mu.Unlock()

	return snap
}

// enumerate queries the lister. A failing lister degrades to an empty result.
func (c *DiscoveryCache) enumerate(ctx context.Context) []Component {
	c.mu.Lock()
	c.enumerations++
	c.mu.Unlock()

	if c.lister == nil {
		return nil
	}

	components, err := c.lister.ListComponents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Device enumeration failed, treating devices as absent")
		return nil
	}
	return components
}

// fresh must be called with c.mu held.
func (c *DiscoveryCache) fresh(fetchedAt time.Time) bool {
	return c.now().Sub(fetchedAt) <= c.ttl
}

// IsStale returns true if the family entry is older than TTL or doesn't exist.
func (c *DiscoveryCache) IsStale(family string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.families[family]
	if !ok {
		return true
	}
	return !c.fresh(cached.FetchedAt)
}

// Invalidate removes one family from the cache and drops the shared
// snapshot so the next lookup enumerates again.
func (c *DiscoveryCache) Invalidate(family string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.families, family)
	c.last = nil
}

// Clear removes all entries from the cache.
func (c *DiscoveryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.families = make(map[string]*cachedFamily)
	c.last = nil
}

// Enumerations returns how many times the registry has been enumerated.
func (c *DiscoveryCache) Enumerations() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enumerations
}
