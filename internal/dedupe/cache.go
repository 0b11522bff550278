// ABOUTME: Thread-safe TTL cache for suppressing repeated keys
// ABOUTME: Backs Matrix event dedupe and auth nonce replay protection

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers string keys for a bounded time and up to a bounded count.
// The Matrix frontend uses it to drop redelivered events; the auth layer
// uses it to reject replayed signature nonces. Insertion order is kept in a
// linked list so eviction at capacity is O(1).
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*seenEntry
	order   *list.List // oldest key at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache whose entries expire after ttl and which holds at most
// maxSize keys. A background goroutine sweeps expired entries; callers must
// Close the cache to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Check reports whether key has been marked and has not expired.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return time.Since(entry.at) < c.ttl
}

// CheckAndMark marks key and reports whether it was already live, in one
// critical section. Nonce replay checks use this form so two requests
// carrying the same nonce cannot both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.at) < c.ttl {
		return true
	}

	c.markLocked(key)
	return false
}

// Mark records key as seen, refreshing it if already present. At capacity
// the oldest key is evicted first.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Len returns the number of live and expired-but-unswept entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// markLocked requires c.mu held for writing.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	if entry, exists := c.seen[key]; exists {
		entry.at = now
		c.order.MoveToBack(entry.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &seenEntry{at: now, elem: elem}
}

// evictOldest requires c.mu held for writing.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval(c.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweepInterval keeps the sweep reactive for short TTLs without waking up
// constantly for long ones.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		return time.Second
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.at) > c.ttl {
			c.order.Remove(entry.elem)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
