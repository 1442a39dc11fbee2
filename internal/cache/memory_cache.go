package cache

import (
	"container/list"
	"image"
	"sync"
	"time"
)

type entry struct {
	key      Key
	image    image.Image
	cost     int64
	accessed time.Time
}

// MemoryCache implements an in-memory LRU cache of decoded images bounded by
// a byte budget. A zero budget disables proactive eviction; the cache then
// only shrinks on Clear or HandleMemoryPressure.
type MemoryCache struct {
	mu      sync.Mutex
	budget  int64
	total   int64
	items   map[Key]*list.Element
	byID    map[string]map[Size]struct{}
	lruList *list.List
	now     func() time.Time
	onEvict func(key Key, cost int64)
}

// NewMemoryCache creates a new in-memory cache with the given byte budget
func NewMemoryCache(budget int64) *MemoryCache {
	return &MemoryCache{
		budget:  budget,
		items:   make(map[Key]*list.Element),
		byID:    make(map[string]map[Size]struct{}),
		lruList: list.New(),
		now:     time.Now,
	}
}

func NewMemoryCacheMB(megabytes float64) *MemoryCache {
	return NewMemoryCache(BytesFromMegabytes(megabytes))
}

// OnEvict registers a hook called for every entry dropped by the budget policy.
func (c *MemoryCache) OnEvict(fn func(key Key, cost int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the image stored under key. When that exact size is missing the
// closest cached size of the same identifier is returned instead.
func (c *MemoryCache) Get(key Key) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		elem, ok = c.closestLocked(key)
		if !ok {
			return nil, false
		}
	}

	ent := elem.Value.(*entry)
	ent.accessed = c.now()
	c.lruList.MoveToFront(elem)
	return ent.image, true
}

func (c *MemoryCache) closestLocked(key Key) (*list.Element, bool) {
	sizes := c.byID[key.ID]
	var best *list.Element
	var bestSize Size
	for size := range sizes {
		if best == nil || closer(key.Size, size, bestSize) {
			best = c.items[Key{ID: key.ID, Size: size}]
			bestSize = size
		}
	}
	return best, best != nil
}

// Has reports whether key, or another size of the same identifier, is cached.
// Recency is left untouched.
func (c *MemoryCache) Has(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		return true
	}
	return len(c.byID[key.ID]) > 0
}

func (c *MemoryCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID[id]) > 0
}

func (c *MemoryCache) Put(key Key, img image.Image, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElementLocked(elem)
	}

	ent := &entry{key: key, image: img, cost: cost, accessed: c.now()}
	c.items[key] = c.lruList.PushFront(ent)
	sizes, ok := c.byID[key.ID]
	if !ok {
		sizes = make(map[Size]struct{})
		c.byID[key.ID] = sizes
	}
	sizes[key.Size] = struct{}{}
	c.total += cost

	c.evictLocked()
}

// Remove drops every cached size of the identifier.
func (c *MemoryCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for size := range c.byID[id] {
		if elem, ok := c.items[Key{ID: id, Size: size}]; ok {
			c.removeElementLocked(elem)
		}
	}
}

func (c *MemoryCache) RemoveKey(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElementLocked(elem)
	}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[Key]*list.Element)
	c.byID = make(map[string]map[Size]struct{})
	c.lruList = list.New()
	c.total = 0
}

// HandleMemoryPressure empties the cache regardless of the configured budget.
func (c *MemoryCache) HandleMemoryPressure() {
	c.Clear()
}

func (c *MemoryCache) SetByteBudget(budget int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.budget = budget
	c.evictLocked()
}

func (c *MemoryCache) ByteBudget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Bytes returns the summed cost of all entries
func (c *MemoryCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evictLocked removes least recently used entries until the total fits the
// budget. Entries sharing the oldest access time go highest cost first.
func (c *MemoryCache) evictLocked() {
	if c.budget <= 0 {
		return
	}

	for c.total > c.budget && c.lruList.Len() > 0 {
		victim := c.lruList.Back()
		oldest := victim.Value.(*entry).accessed
		for elem := victim.Prev(); elem != nil; elem = elem.Prev() {
			ent := elem.Value.(*entry)
			if !ent.accessed.Equal(oldest) {
				break
			}
			if ent.cost > victim.Value.(*entry).cost {
				victim = elem
			}
		}

		ent := victim.Value.(*entry)
		c.removeElementLocked(victim)
		if c.onEvict != nil {
			c.onEvict(ent.key, ent.cost)
		}
	}
}

func (c *MemoryCache) removeElementLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.lruList.Remove(elem)
	delete(c.items, ent.key)
	if sizes, ok := c.byID[ent.key.ID]; ok {
		delete(sizes, ent.key.Size)
		if len(sizes) == 0 {
			delete(c.byID, ent.key.ID)
		}
	}
	c.total -= ent.cost
}
