package resolver

import (
	"sync"
	"time"
)

// Pending is the per-request state kept between a resolution and its
// feedback: enough to build a golden record without re-embedding.
type Pending struct {
	RequestID          string
	NormalizedInput    string
	Embedding          []float32
	ResolvedIntentID   string
	Confidence         float64
	ContextFingerprint string
	CreatedAt          time.Time
}

type pendingEntry struct {
	pending   Pending
	expiresAt time.Time
}

// PendingCache is a TTL cache of Pending records keyed by request id.
// A feedback arriving after the TTL simply misses; that is the
// "logged_without_memory" path, not an error.
type PendingCache struct {
	mu         sync.Mutex
	entries    map[string]pendingEntry
	ttl        time.Duration
	maxEntries int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPendingCache creates the cache and starts its eviction loop.
// maxEntries bounds memory under feedback-free load; 0 means unbounded.
func NewPendingCache(ttl time.Duration, maxEntries int) *PendingCache {
	c := &PendingCache{
		entries:    make(map[string]pendingEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.evictLoop()
	return c
}

// Put stores a pending record under its request id.
func (c *PendingCache) Put(p Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[p.RequestID] = pendingEntry{pending: p, expiresAt: time.Now().Add(c.ttl)}
}

// Get returns the pending record for a request id, if present and unexpired.
func (c *PendingCache) Get(requestID string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[requestID]
	if !ok || time.Now().After(e.expiresAt) {
		return Pending{}, false
	}
	return e.pending, true
}

// Remove drops a record. Called after a feedback consumes it.
func (c *PendingCache) Remove(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, requestID)
}

// Len returns the live entry count, expired entries included until the next
// sweep.
func (c *PendingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the eviction loop.
func (c *PendingCache) Close() {
	close(c.done)
	c.wg.Wait()
}

func (c *PendingCache) evictLoop() {
	defer c.wg.Done()
	interval := c.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for id, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}

// evictOldestLocked removes the entry closest to expiry. Caller holds the lock.
func (c *PendingCache) evictOldestLocked() {
	oldestID := ""
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.expiresAt.Before(oldest) {
			oldestID = id
			oldest = e.expiresAt
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}
