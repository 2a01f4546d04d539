// Package secretcache implements a process-scoped secret holder that
// keeps opaque secrets in memory under an owner id. No other package
// in this module uses it. Entries are zeroised on explicit release, on
// overwrite, and by a background sweep once they go idle past their
// TTL.
package secretcache

import (
	"sync"
	"time"
)

type entry struct {
	secret    []byte
	lastTouch time.Time
}

// Cache holds opaque secret byte slices (passwords, unsealed root
// keys) keyed by an owner id (typically a user_id or session_id).
// Nothing in this package ever serializes or transmits a cached
// value.
type Cache struct {
	idleTimeout time.Duration
	mu          sync.Mutex
	entries     map[string]*entry
	stop        chan struct{}
	closeOnce   sync.Once
}

// New creates a cache whose entries are dropped and zeroised after
// idleTimeout of no Touch/Get activity. A background sweep runs every
// idleTimeout/4 (minimum 1s).
func New(idleTimeout time.Duration) *Cache {
	c := &Cache{
		idleTimeout: idleTimeout,
		entries:     make(map[string]*entry),
		stop:        make(chan struct{}),
	}
	sweep := idleTimeout / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	go c.sweepLoop(sweep)
	return c
}

// Put stores secret under id, copying it in. Any previous value under
// id is zeroised first.
func (c *Cache) Put(id string, secret []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[id]; ok {
		zero(old.secret)
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	c.entries[id] = &entry{secret: cp, lastTouch: time.Now()}
}

// Get returns a copy of the cached secret under id and refreshes its
// idle clock, or ok=false if absent or expired.
func (c *Cache) Get(id string) (secret []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[id]
	if !found {
		return nil, false
	}
	if time.Since(e.lastTouch) > c.idleTimeout {
		zero(e.secret)
		delete(c.entries, id)
		return nil, false
	}
	e.lastTouch = time.Now()
	cp := make([]byte, len(e.secret))
	copy(cp, e.secret)
	return cp, true
}

// Release zeroises and removes id's entry immediately, e.g. on
// logout.
func (c *Cache) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		zero(e.secret)
		delete(c.entries, id)
	}
}

// Close stops the background sweep and zeroises every remaining
// entry.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		defer c.mu.Unlock()
		for id, e := range c.entries {
			zero(e.secret)
			delete(c.entries, id)
		}
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.lastTouch) > c.idleTimeout {
			zero(e.secret)
			delete(c.entries, id)
		}
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
