package services

import (
	"sync"

	"chorus/presence-engine/models"
)

// SnapshotCache is the process-local read-through cache of presence
// snapshots. Entries are always re-derived from the freshly written durable
// record after a transition, never patched in place, so a cached value
// matches what was last persisted. Unbounded: its size is capped by the
// distinct users observed in-process.
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]models.Snapshot
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		entries: make(map[string]models.Snapshot),
	}
}

func (c *SnapshotCache) Get(userID string) (models.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot, ok := c.entries[userID]
	return snapshot, ok
}

func (c *SnapshotCache) Set(snapshot models.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snapshot.UserID] = snapshot
}

func (c *SnapshotCache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]models.Snapshot)
}

func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
