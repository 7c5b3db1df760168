// ABOUTME: Tests for the client message id cache
// ABOUTME: Validates claim semantics, TTL expiry with a fake clock, eviction and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_ClaimOnce(t *testing.T) {
	cache := New(time.Minute, 10)
	defer cache.Close()

	assert.True(t, cache.Claim("a"), "first claim wins")
	assert.False(t, cache.Claim("a"), "second claim is a duplicate")
	assert.True(t, cache.Claimed("a"))
	assert.False(t, cache.Claimed("b"))
}

func TestCache_ClaimExpires(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Minute, 10, WithClock(clock.Now))
	defer cache.Close()

	assert.True(t, cache.Claim("a"))
	clock.Advance(59 * time.Second)
	assert.False(t, cache.Claim("a"))

	clock.Advance(2 * time.Second)
	assert.False(t, cache.Claimed("a"))
	assert.True(t, cache.Claim("a"), "expired claim can be renewed")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Release(t *testing.T) {
	cache := New(time.Minute, 10)
	defer cache.Close()

	cache.Claim("a")
	cache.Release("a")

	assert.False(t, cache.Claimed("a"))
	assert.True(t, cache.Claim("a"))

	// Releasing an unknown key is a no-op
	cache.Release("missing")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New(time.Hour, 3)
	defer cache.Close()

	for _, k := range []string{"first", "second", "third", "fourth"} {
		cache.Claim(k)
	}

	assert.False(t, cache.Claimed("first"), "oldest claim evicted")
	assert.True(t, cache.Claimed("second"))
	assert.True(t, cache.Claimed("fourth"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_SweepDropsExpired(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Minute, 10, WithClock(clock.Now))
	defer cache.Close()

	cache.Claim("old-1")
	cache.Claim("old-2")
	clock.Advance(30 * time.Second)
	cache.Claim("fresh")
	clock.Advance(45 * time.Second)

	cache.sweep()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Claimed("fresh"))
}

func TestCache_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cache.Claim("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_ConcurrentMixedKeys(t *testing.T) {
	cache := New(time.Minute, 50)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k-%d-%d", i, j)
				cache.Claim(key)
				cache.Claimed(key)
				if j%3 == 0 {
					cache.Release(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 50)
}

func TestCache_Defaults(t *testing.T) {
	cache := New(0, 0)
	defer cache.Close()

	assert.Equal(t, DefaultTTL, cache.ttl)
	assert.Equal(t, DefaultMaxEntries, cache.max)
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	assert.NotPanics(t, cache.Close)
}

func TestKey_ScopesByThread(t *testing.T) {
	assert.NotEqual(t, Key("t1", "m1"), Key("t2", "m1"))
	assert.Equal(t, Key("t1", "m1"), Key("t1", "m1"))
}
