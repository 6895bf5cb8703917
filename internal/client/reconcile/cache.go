// Package reconcile keeps a client's local copy of one shopping list in step
// with the wire events streamed for it.
package reconcile

import (
	"slices"
	"sync"
)

// ItemView is the client's record of one list item.
type ItemView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Unit       string `json:"unit,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Notes      string `json:"notes,omitempty"`
	Checked    bool   `json:"checked"`
}

// Cache holds the items of one (household, list) pair.
type Cache struct {
	mu    sync.Mutex
	items []ItemView
	stale bool
	// gen counts invalidations; a fetch only clears stale if none happened
	// while it was in flight.
	gen uint64
	// patches made since the current fetch started, replayed over its result.
	patches map[string]bool
}

func NewCache(items []ItemView) *Cache {
	return &Cache{items: slices.Clone(items), patches: map[string]bool{}}
}

// Items returns a copy in server order.
func (c *Cache) Items() []ItemView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *Cache) Item(id string) (ItemView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	return ItemView{}, false
}

func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// SetChecked flips the flag of a cached item and reports whether it was found.
func (c *Cache) SetChecked(id string, checked bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.items[i].Checked = checked
	c.patches[id] = checked
	return true
}

func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
	c.gen++
}

// beginFetch returns the token to hand to replace once the fetch returns.
func (c *Cache) beginFetch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.patches)
	return c.gen
}

// replace installs a fetched list. Check patches that arrived during the
// fetch win over the fetched flags.
func (c *Cache) replace(items []ItemView, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = slices.Clone(items)
	for i := range c.items {
		if checked, ok := c.patches[c.items[i].ID]; ok {
			c.items[i].Checked = checked
		}
	}
	clear(c.patches)
	if token == c.gen {
		c.stale = false
	}
}

func (c *Cache) indexLocked(id string) int {
	return slices.IndexFunc(c.items, func(it ItemView) bool { return it.ID == id })
}
