package daemon

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDedupeCache(t *testing.T) {
	t.Run("marks then reports seen", func(t *testing.T) {
		c := newDedupeCache(time.Minute)
		assert.False(t, c.SeenOrMark("1:10"))
		assert.True(t, c.SeenOrMark("1:10"))
		assert.False(t, c.SeenOrMark("1:11"))
		assert.Equal(t, 2, c.Len())
	})

	t.Run("entry expires after ttl", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		c := newDedupeCache(time.Minute)
		c.now = clock.Now

		assert.False(t, c.SeenOrMark("k"))
		clock.Advance(30 * time.Second)
		assert.True(t, c.SeenOrMark("k"))

		clock.Advance(2 * time.Minute)
		assert.False(t, c.SeenOrMark("k"), "expired key is marked again")
	})

	t.Run("cleanup drops expired entries only", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		c := newDedupeCache(time.Minute)
		c.now = clock.Now

		c.SeenOrMark("old")
		clock.Advance(90 * time.Second)
		c.SeenOrMark("new")

		c.cleanupExpired()
		assert.Equal(t, 1, c.Len())
		assert.True(t, c.SeenOrMark("new"))
	})

	t.Run("non-positive ttl uses default", func(t *testing.T) {
		c := newDedupeCache(0)
		assert.Equal(t, defaultDedupeTTL, c.ttl)
	})

	t.Run("start and stop are idempotent", func(t *testing.T) {
		c := newDedupeCache(10 * time.Millisecond)
		c.Start()
		c.Start()
		c.Stop()
		c.Stop()
	})

	t.Run("concurrent marks admit a key once", func(t *testing.T) {
		c := newDedupeCache(time.Minute)
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !c.SeenOrMark("same") {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, fresh)
	})
}

func TestChatAllowlist(t *testing.T) {
	t.Run("empty allows every chat", func(t *testing.T) {
		a := newChatAllowlist(nil)
		assert.True(t, a.Allowed(-100123))
		assert.True(t, a.Allowed(7))
	})

	t.Run("restricts to listed chats", func(t *testing.T) {
		a := newChatAllowlist([]int64{-100123})
		assert.True(t, a.Allowed(-100123))
		assert.False(t, a.Allowed(7))
	})

	t.Run("set replaces the list", func(t *testing.T) {
		a := newChatAllowlist([]int64{1})
		a.Set([]int64{2})
		assert.False(t, a.Allowed(1))
		assert.True(t, a.Allowed(2))

		a.Set(nil)
		assert.True(t, a.Allowed(1))
	})
}

func TestDedupeKey(t *testing.T) {
	for _, tc := range []struct {
		chat int64
		msg  int
	}{
		{-100123, 5},
		{42, 0},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.chat, tc.msg), func(t *testing.T) {
			key := dedupeKey(messageIn(tc.chat, tc.msg, "x"))
			assert.Equal(t, fmt.Sprintf("%d:%d", tc.chat, tc.msg), key)
		})
	}
}
