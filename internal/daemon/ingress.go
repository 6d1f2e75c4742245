package daemon

import (
	"sync"
	"time"
)

const defaultDedupeTTL = 5 * time.Minute

// dedupeCache remembers recently handled message keys so redelivered updates are dropped.
type dedupeCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

func newDedupeCache(ttl time.Duration) *dedupeCache {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &dedupeCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// SeenOrMark reports whether key was marked within the TTL, marking it if not.
func (c *dedupeCache) SeenOrMark(key string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, exists := c.entries[key]; exists && now.Sub(ts) <= c.ttl {
		return true
	}
	c.entries[key] = now
	return false
}

func (c *dedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *dedupeCache) Start() {
	c.startOnce.Do(func() {
		interval := c.ttl / 2
		if interval <= 0 {
			interval = time.Second
		}
		if interval > 30*time.Second {
			interval = 30 * time.Second
		}

		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.cleanupExpired()
				case <-c.stopCh:
					return
				}
			}
		}()
	})
}

func (c *dedupeCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *dedupeCache) cleanupExpired() {
	now := c.now()

	c.mu.Lock()
	for key, ts := range c.entries {
		if now.Sub(ts) > c.ttl {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// chatAllowlist limits the chats the bot serves. An empty list allows every chat.
type chatAllowlist struct {
	mu    sync.RWMutex
	chats map[int64]bool
}

func newChatAllowlist(chatIDs []int64) *chatAllowlist {
	a := &chatAllowlist{}
	a.Set(chatIDs)
	return a
}

func (a *chatAllowlist) Set(chatIDs []int64) {
	chats := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		chats[id] = true
	}

	a.mu.Lock()
	a.chats = chats
	a.mu.Unlock()
}

func (a *chatAllowlist) Allowed(chatID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chats) == 0 || a.chats[chatID]
}
