// Package dedupe drops replayed inbound deliveries before they reach the store.
// It is a fast path only; the message store's unique provider id stays authoritative.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Guard remembers keys for a while. Callers mark a key only once the
// delivery it names is committed, so a failed or interrupted delivery is
// accepted again on redelivery.
type Guard interface {
	// Seen reports whether key was marked within the TTL.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark remembers key for the TTL.
	Mark(ctx context.Context, key string) error
}

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is an in-process TTL cache bounded to maxSize keys, evicting the oldest.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewCache creates a cache.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *Cache) Seen(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl, nil
}

func (c *Cache) Mark(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return nil
	}
	for len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
	return nil
}

// Len returns the number of remembered keys, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
