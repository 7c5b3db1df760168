// ABOUTME: TTL and size bounded set of client message ids already accepted
// ABOUTME: Lets the conversation layer drop retried submissions of the same user turn

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when New receives zero values.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 10_000
	defaultSweep      = time.Minute
)

type entry struct {
	key     string
	claimed time.Time
}

// Cache remembers claimed keys for a TTL. The oldest claim is evicted when
// the cache is full. A background sweep drops expired claims.
type Cache struct {
	mu      sync.Mutex
	byKey   map[string]*list.Element
	order   *list.List // oldest claim at the front
	ttl     time.Duration
	max     int
	now     func() time.Time
	stop    chan struct{}
	stopped bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache and starts its sweeper. Call Close to stop it.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		byKey: make(map[string]*list.Element),
		order: list.New(),
		ttl:   ttl,
		max:   maxEntries,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop(defaultSweep)
	return c
}

// Key builds the cache key for a client message id within a thread.
func Key(threadID, clientMessageID string) string {
	return threadID + "\x00" + clientMessageID
}

// Claim records key and reports true when it was not already claimed within
// the TTL. Exactly one of several concurrent claims of a key succeeds.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.byKey[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return false
		}
		// Expired claims are renewed in place
		e.claimed = now
		c.order.MoveToBack(el)
		return true
	}

	if c.order.Len() >= c.max {
		c.removeLocked(c.order.Front())
	}
	c.byKey[key] = c.order.PushBack(&entry{key: key, claimed: now})
	return true
}

// Release forgets key so a later Claim succeeds. Used when the work a claim
// guarded failed and the client should be able to retry.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		c.removeLocked(el)
	}
}

// Claimed reports whether key holds an unexpired claim.
func (c *Cache) Claimed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).claimed) < c.ttl
}

// Len returns the number of stored claims, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.byKey, el.Value.(*entry).key)
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep drops expired claims. Claims are ordered by time so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; {
		if now.Sub(el.Value.(*entry).claimed) < c.ttl {
			return
		}
		next := el.Next()
		c.removeLocked(el)
		el = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stop)
		c.stopped = true
	}
}
