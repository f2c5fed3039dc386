// Package cache holds the small bounded in-memory structures routing
// leans on: a TTL dedupe set for redelivered events and an LRU for state
// that must not grow with workspace age.
package cache

import (
	"sync"
	"time"
)

// Dedupe is a time-limited seen-set. Slack redelivers events after
// reconnects and slow acks; the first delivery wins and repeats within
// the TTL are dropped.
type Dedupe struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
}

// NewDedupe builds a seen-set. ttl <= 0 means entries never expire by
// age; max <= 0 means no size bound.
func NewDedupe(ttl time.Duration, max int) *Dedupe {
	return &Dedupe{
		ttl:  ttl,
		max:  max,
		seen: make(map[string]time.Time),
	}
}

// Check records key and reports whether it was already seen within the
// TTL. The first sighting returns false. Empty keys are never recorded.
func (d *Dedupe) Check(key string) bool {
	return d.CheckAt(key, time.Now())
}

// CheckAt is Check with an explicit clock, for tests.
func (d *Dedupe) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok {
		if d.ttl <= 0 || now.Sub(at) < d.ttl {
			d.seen[key] = now
			return true
		}
	}
	d.seen[key] = now
	d.evictLocked(now)
	return false
}

// Prune drops expired entries. Scheduled on the shared cron so the map
// does not hold every key ever seen.
func (d *Dedupe) Prune() {
	d.PruneAt(time.Now())
}

// PruneAt is Prune with an explicit clock, for tests.
func (d *Dedupe) PruneAt(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now.Add(-d.ttl)
	for key, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, key)
		}
	}
}

// Len reports the current entry count.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// evictLocked enforces the size bound by dropping the oldest entries.
// The map is small enough that a scan per insert beats keeping an index.
func (d *Dedupe) evictLocked(now time.Time) {
	if d.ttl > 0 && len(d.seen) > d.max && d.max > 0 {
		cutoff := now.Add(-d.ttl)
		for key, at := range d.seen {
			if at.Before(cutoff) {
				delete(d.seen, key)
			}
		}
	}
	for d.max > 0 && len(d.seen) > d.max {
		var oldestKey string
		var oldestAt time.Time
		for key, at := range d.seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = key, at
			}
		}
		delete(d.seen, oldestKey)
	}
}
