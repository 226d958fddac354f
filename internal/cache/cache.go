// Package cache provides the volatile audio URL cache: external key to
// stream URL with a fixed per-entry lifetime.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type entry struct {
	url        string
	insertedAt time.Time
	timer      *time.Timer
}

// AudioCache holds recently extracted stream URLs keyed by external key.
// Every entry expires a fixed delay after insertion via its own timer;
// re-adding a key supersedes the previous entry and restarts the clock.
// The LRU bound protects against unbounded growth under key churn.
type AudioCache struct {
	ttl     time.Duration
	logger  *zap.Logger
	mutex   sync.Mutex
	entries *lru.Cache[string, *entry]
	closed  bool
}

func NewAudioCache(size int, ttl time.Duration, logger *zap.Logger) *AudioCache {
	c := &AudioCache{
		ttl:    ttl,
		logger: logger,
	}

	// The eviction callback also fires for capacity evictions, where the
	// expiry timer must be stopped so it cannot outlive the entry.
	entries, _ := lru.NewWithEvict[string, *entry](size, func(_ string, e *entry) {
		e.timer.Stop()
	})
	c.entries = entries

	return c
}

// Get returns the cached stream URL for the key, if present.
func (c *AudioCache) Get(key string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	return e.url, true
}

// Add inserts or replaces the entry for key and schedules its expiry.
func (c *AudioCache) Add(key, url string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return
	}

	e := &entry{url: url, insertedAt: time.Now()}
	e.timer = time.AfterFunc(c.ttl, func() {
		c.expire(key, e)
	})

	// Add triggers the evict callback for a replaced value, stopping the
	// superseded entry's timer.
	c.entries.Add(key, e)
}

// Len returns the number of live entries.
func (c *AudioCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries.Len()
}

// Close stops all expiry timers and drops every entry.
func (c *AudioCache) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
	c.entries.Purge()
}

// expire removes the entry the timer belongs to. If the key was superseded
// by a fresher insertion in the meantime, that entry is left alone.
func (c *AudioCache) expire(key string, stale *entry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	current, ok := c.entries.Peek(key)
	if !ok || current != stale {
		return
	}

	c.entries.Remove(key)
	if c.logger != nil {
		c.logger.Debug("Expired volatile cache entry",
			zap.String("externalKey", key),
			zap.Duration("age", time.Since(stale.insertedAt)))
	}
}
