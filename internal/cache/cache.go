// Package cache holds rendered calendar feeds in memory for a fixed TTL.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	appLog "untiscal/internal/log"
	"untiscal/internal/metrics"
)

// DefaultSweepInterval is how often Start purges expired entries.
const DefaultSweepInterval = time.Minute

type entry struct {
	createdAt time.Time
	doc       string
}

// Cache maps a request fingerprint to a rendered document. Entries older
// than the TTL are never returned; they are dropped on access or by Sweep.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	nowF    func() time.Time

	flights singleflight.Group

	sweepInterval time.Duration
	cron          *cron.Cron
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries:       make(map[string]entry),
		ttl:           ttl,
		nowF:          time.Now,
		sweepInterval: DefaultSweepInterval,
	}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.nowF = now
	c.mu.Unlock()
}

// SetTTL changes the TTL for all entries, existing ones included.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// SetSweepInterval changes the interval used by the next Start.
func (c *Cache) SetSweepInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultSweepInterval
	}
	c.mu.Lock()
	c.sweepInterval = d
	c.mu.Unlock()
}

// Get returns the document for key if it is younger than the TTL. An expired
// entry is removed and reported as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
	if c.nowF().Sub(e.createdAt) >= c.ttl {
		delete(c.entries, key)
		metrics.CacheEntries.Set(float64(len(c.entries)))
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return "", false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.doc, true
}

// Set stores doc under key, replacing any previous entry.
func (c *Cache) Set(key, doc string) {
	c.mu.Lock()
	c.entries[key] = entry{createdAt: c.nowF(), doc: doc}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// GetOrCreate returns the cached document for key, or runs create and caches
// its result. Concurrent callers for the same key share a single create call.
// Errors are returned to every waiting caller and nothing is cached.
// hit reports whether the document came from the cache.
func (c *Cache) GetOrCreate(key string, create func() (string, error)) (doc string, hit bool, err error) {
	if doc, ok := c.Get(key); ok {
		return doc, true, nil
	}

	v, err, _ := c.flights.Do(key, func() (any, error) {
		// A flight that just finished may already have filled the entry.
		if doc, ok := c.Get(key); ok {
			return doc, nil
		}
		doc, err := create()
		if err != nil {
			return "", err
		}
		c.Set(key, doc)
		return doc, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), false, nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowF()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	metrics.CacheEvictions.Add(float64(removed))
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs Sweep in the background on the sweep interval until Stop.
func (c *Cache) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	cr := cron.New()
	schedule := fmt.Sprintf("@every %s", c.sweepInterval)
	if _, err := cr.AddFunc(schedule, func() {
		if n := c.Sweep(); n > 0 {
			appLog.Debug("feed cache sweep", "removed", n)
		}
	}); err != nil {
		return fmt.Errorf("cache: schedule sweep: %w", err)
	}
	cr.Start()
	c.cron = cr
	appLog.Info("feed cache sweeper started", "interval", c.sweepInterval)
	return nil
}

// Stop halts the background sweep and waits for a running sweep to finish.
func (c *Cache) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return
	}
	<-cr.Stop().Done()
}
