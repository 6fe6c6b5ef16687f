package conn

import (
	"sort"
	"sync"
)

// cache maps object names to the single wrapper that owns each object's
// handle. Only the owning Connection mutates it; readers take snapshots.
type cache[T object] struct {
	kind  Kind
	mu    sync.RWMutex
	items map[string]T
}

func newCache[T object](kind Kind) *cache[T] {
	return &cache[T]{kind: kind, items: make(map[string]T)}
}

// names returns the set of cached names.
func (c *cache[T]) names() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]struct{}, len(c.items))
	for name := range c.items {
		out[name] = struct{}{}
	}
	return out
}

func (c *cache[T]) get(name string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.items[name]
	return obj, ok
}

// insert adds obj unless its name is already cached.
func (c *cache[T]) insert(obj T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[obj.Name()]; ok {
		return false
	}
	c.items[obj.Name()] = obj
	return true
}

// take removes and returns the named wrapper. The caller becomes its owner
// and is responsible for freeing it.
func (c *cache[T]) take(name string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.items[name]
	if ok {
		delete(c.items, name)
	}
	return obj, ok
}

// drain empties the cache and returns every wrapper it held, sorted by name.
func (c *cache[T]) drain() []T {
	c.mu.Lock()
	items := c.items
	c.items = make(map[string]T)
	c.mu.Unlock()
	return sortedValues(items)
}

// snapshot returns the cached wrappers sorted by name.
func (c *cache[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.items)
}

func (c *cache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func sortedValues[T object](items map[string]T) []T {
	out := make([]T, 0, len(items))
	for _, obj := range items {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
