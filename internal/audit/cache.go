package audit

import (
	"sync"
	"time"
)

// profileCache is a small TTL cache for actor → profile-id resolution.
// Negative results are cached too, so unknown actors do not hammer the
// profile table on every audit entry.
type profileCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]profileCacheEntry
}

type profileCacheEntry struct {
	profileID *uint
	expiresAt time.Time
}

func newProfileCache(ttl time.Duration) *profileCache {
	return &profileCache{
		ttl:     ttl,
		entries: make(map[string]profileCacheEntry),
	}
}

func (c *profileCache) get(actorID string) (*uint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[actorID]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, actorID)
		return nil, false
	}
	return entry.profileID, true
}

func (c *profileCache) set(actorID string, profileID *uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[actorID] = profileCacheEntry{
		profileID: profileID,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *profileCache) expire(actorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, actorID)
}
