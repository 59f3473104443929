package statement

import (
	"container/list"
	"sync"

	"github.com/gopool/connpool/db"
)

// Cache is a bounded, per-handle K→V map from a Key to a reusable prepared
// statement. Eviction is LRU, the policy spec.md §9's open question on
// cache eviction recommends; a size of 0 disables caching (Get always
// misses, Put is a no-op).
//
// Callers are expected to be the single goroutine currently holding the
// owning handle (spec.md §5 "thread-local statement caches"); Cache still
// guards its state with mu on every call.
type Cache struct {
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	mu      sync.Mutex
}

type entry struct {
	key  string
	stmt db.PreparedStmt
}

// New creates a statement cache bounded to maxSize entries. maxSize <= 0
// disables caching.
func New(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached statement for key and true on a hit, promoting it
// to most-recently-used. On a miss it returns (nil, false).
func (c *Cache) Get(key string) (db.PreparedStmt, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).stmt, true
}

// Put inserts stmt under key, evicting the least-recently-used entry if the
// cache is full. It returns the evicted statement (or nil if nothing was
// evicted) so the caller can physically close it — Cache never closes
// statements itself, matching spec.md §4.1.1's "offers itself back" model
// where the ConnectionHandle owns the close-or-cache decision.
func (c *Cache) Put(key string, stmt db.PreparedStmt) (evicted db.PreparedStmt) {
	if c.maxSize <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*entry).stmt = stmt
		return nil
	}

	el := c.order.PushFront(&entry{key: key, stmt: stmt})
	c.entries[key] = el

	if c.order.Len() > c.maxSize {
		victim := c.order.Back()
		c.order.Remove(victim)
		ev := victim.Value.(*entry)
		delete(c.entries, ev.key)
		return ev.stmt
	}
	return nil
}

// Remove drops key from the cache without closing its statement, returning
// it so the caller can close it. Used when a client explicitly evicts a
// statement ahead of LRU pressure.
func (c *Cache) Remove(key string) db.PreparedStmt {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.order.Remove(el)
	delete(c.entries, key)
	return el.Value.(*entry).stmt
}

// Len reports the current number of cached statements.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Drain removes and returns every cached statement, leaving the cache
// empty. Used when a ConnectionHandle is retired (spec.md §4.1.1: "every
// cached statement is closed physically").
func (c *Cache) Drain() []db.PreparedStmt {
	c.mu.Lock()
	defer c.mu.Unlock()

	stmts := make([]db.PreparedStmt, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		stmts = append(stmts, el.Value.(*entry).stmt)
	}
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	return stmts
}
