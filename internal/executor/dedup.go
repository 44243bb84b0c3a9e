package executor

import (
	"sync"
	"time"
)

// Dedup refuses a trade id seen within the TTL so a request is never
// executed, or reported to the ledger, twice. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // trade id -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if id was seen within the TTL. Otherwise id is
// recorded and false is returned. Expired entries are swept on the way.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seen, ok := d.seen[id]; ok && now.Sub(seen) < d.ttl {
		return true
	}
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	d.seen[id] = now
	return false
}
