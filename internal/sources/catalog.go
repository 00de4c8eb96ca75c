package sources

import (
	"sort"
	"sync"

	"github.com/pingsantohq/watchdog/internal/watchdog"
)

// Catalog holds the sources known to the service. Watchdogs reference
// sources through it so that one source object is shared by every entry
// watching it.
type Catalog struct {
	mu   sync.RWMutex
	byID map[string]watchdog.Source
}

func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[string]watchdog.Source)}
}

// Ensure returns the source registered under id, creating it with name when
// absent. The name of an existing source is never changed.
func (c *Catalog) Ensure(id, name string) watchdog.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src, ok := c.byID[id]; ok {
		return src
	}
	src := watchdog.NewSource(id, name)
	c.byID[id] = src
	return src
}

func (c *Catalog) Lookup(id string) (watchdog.Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.byID[id]
	return src, ok
}

// Resolve returns the source registered under id, registering it with name
// when unknown. It serves the persistence decoder, which restores sources
// created at runtime that no configuration declares.
func (c *Catalog) Resolve(id, name string) (watchdog.Source, bool) {
	if id == "" {
		return nil, false
	}
	return c.Ensure(id, name), true
}

func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	return true
}

// All returns every source ordered by ID.
func (c *Catalog) All() []watchdog.Source {
	c.mu.RLock()
	out := make([]watchdog.Source, 0, len(c.byID))
	for _, src := range c.byID {
		out = append(out, src)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
