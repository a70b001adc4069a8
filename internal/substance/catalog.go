package substance

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps substance ids to their single shared definition.
type Catalog struct {
	mu         sync.RWMutex
	substances map[string]*Substance
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{substances: make(map[string]*Substance)}
}

// Register adds s. Ids must be unique.
func (c *Catalog) Register(s *Substance) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.substances[s.ID]; ok {
		return fmt.Errorf("substance %q already registered", s.ID)
	}
	c.substances[s.ID] = s
	return nil
}

// Get returns the substance registered under id.
func (c *Catalog) Get(id string) (*Substance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.substances[id]
	return s, ok
}

// IDs returns all registered ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.substances))
	for id := range c.substances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered substances.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.substances)
}

// Builtin returns a catalog pre-populated with common propellants and
// pressurants. Each call returns fresh definitions.
func Builtin() *Catalog {
	c := NewCatalog()
	for _, s := range []*Substance{
		{ID: "water", Name: "Water", Color: "#3f7fbf", Phase: Liquid, ReferenceDensity: 998, ReferencePressure: StandardPressure, BulkModulus: 2.2e9},
		{ID: "lox", Name: "Liquid Oxygen", Color: "#9fd5ff", Phase: Liquid, ReferenceDensity: 1141, ReferencePressure: StandardPressure, BulkModulus: 0.95e9},
		{ID: "rp1", Name: "RP-1", Color: "#c8a060", Phase: Liquid, ReferenceDensity: 820, ReferencePressure: StandardPressure, BulkModulus: 1.3e9},
		{ID: "lh2", Name: "Liquid Hydrogen", Color: "#e0f0ff", Phase: Liquid, ReferenceDensity: 70.85, ReferencePressure: StandardPressure, BulkModulus: 0.05e9},
		{ID: "nitrogen", Name: "Nitrogen", Color: "#d0d0d0", Phase: Gas, ReferenceDensity: 1.165, ReferencePressure: StandardPressure, MolarMass: 0.0280134},
		{ID: "helium", Name: "Helium", Color: "#f0e0ff", Phase: Gas, ReferenceDensity: 0.1664, ReferencePressure: StandardPressure, MolarMass: 0.0040026},
	} {
		// definitions above are known-good
		_ = c.Register(s)
	}
	return c
}
