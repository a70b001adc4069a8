package cache

import (
	"sort"
	"sync"
)

// VesselCache maps vessel identifiers to their storage IDs for the current run
type VesselCache struct {
	mu      sync.RWMutex
	vessels map[string]uint
}

// NewVesselCache creates a new VesselCache
func NewVesselCache() *VesselCache {
	return &VesselCache{
		vessels: make(map[string]uint),
	}
}

// Get retrieves a storage ID by vessel identifier
func (c *VesselCache) Get(vesselID string) (uint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.vessels[vesselID]
	return id, ok
}

// Set stores a storage ID by vessel identifier
func (c *VesselCache) Set(vesselID string, id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vessels[vesselID] = id
}

// Delete removes a vessel
func (c *VesselCache) Delete(vesselID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vessels, vesselID)
}

// Len returns the number of cached vessels
func (c *VesselCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vessels)
}

// Names lists cached vessel identifiers in sorted order
func (c *VesselCache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.vessels))
	for name := range c.vessels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reset clears all vessels from the cache
func (c *VesselCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vessels = make(map[string]uint)
}
